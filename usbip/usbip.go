// Package usbip implements the USB/IP wire protocol: the management
// operations (device list, import/attach) and the URB (USB Request Block)
// submit/unlink records exchanged once a client has attached.
//
// Every record here is big-endian on the wire except the SETUP packet
// embedded in CmdSubmit, whose sub-fields are little-endian per the USB
// specification (see setup.go). Records with a variable-length tail
// (DeviceInfo's trailing interfaces, URB payloads) expose the fixed
// prefix and leave the tail to callers, matching how the framing works.
package usbip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Protocol version and command codes (network byte order).
const (
	Version = 0x0111

	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	CmdSubmitCode = 0x00000001
	CmdUnlinkCode = 0x00000002
	RetSubmitCode = 0x00000003
	RetUnlinkCode = 0x00000004

	DirOut = 0x00000000
	DirIn  = 0x00000001
)

// Fixed record sizes, in bytes.
const (
	MgmtHeaderSize = 8
	DeviceInfoSize = 312
	InterfaceSize  = 4
	URBHeaderSize  = 48
	SetupSize      = 8
	BusIDSize      = 32
	DevicePathSize = 256
)

// MgmtHeader is the 8-byte header shared by every OP_REQ/OP_REP.
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func (h MgmtHeader) Pack() []byte {
	buf := make([]byte, MgmtHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	return buf
}

func UnpackMgmtHeader(buf []byte) (MgmtHeader, error) {
	if len(buf) != MgmtHeaderSize {
		return MgmtHeader{}, fmt.Errorf("usbip: MgmtHeader wants %d bytes, got %d", MgmtHeaderSize, len(buf))
	}
	return MgmtHeader{
		Version: binary.BigEndian.Uint16(buf[0:2]),
		Command: binary.BigEndian.Uint16(buf[2:4]),
		Status:  binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// InterfaceInfo is the 4-byte per-interface triplet (+ pad) appended to
// OP_REP_DEVLIST entries.
type InterfaceInfo struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

func (i InterfaceInfo) Pack() []byte {
	return []byte{i.Class, i.SubClass, i.Protocol, 0}
}

func UnpackInterfaceInfo(buf []byte) (InterfaceInfo, error) {
	if len(buf) != InterfaceSize {
		return InterfaceInfo{}, fmt.Errorf("usbip: InterfaceInfo wants %d bytes, got %d", InterfaceSize, len(buf))
	}
	return InterfaceInfo{Class: buf[0], SubClass: buf[1], Protocol: buf[2]}, nil
}

// DeviceInfo is the 312-byte record describing one exported device,
// shared (with different trailing content) by DEVLIST and IMPORT replies.
type DeviceInfo struct {
	Path                [DevicePathSize]byte
	BusID               [BusIDSize]byte
	Busnum              uint32
	Devnum              uint32
	Speed               uint32
	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

// SetPath NUL-pads s to DevicePathSize and stores it.
func (d *DeviceInfo) SetPath(s string) { putFixedString(d.Path[:], s) }

// SetBusID NUL-pads s to BusIDSize and stores it.
func (d *DeviceInfo) SetBusID(s string) { putFixedString(d.BusID[:], s) }

// BusIDString returns the BusID with trailing NUL padding trimmed.
func (d *DeviceInfo) BusIDString() string { return trimFixedString(d.BusID[:]) }

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func trimFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// Pack writes the DeviceInfo body in its 312-byte layout.
func (d DeviceInfo) Pack() []byte {
	buf := make([]byte, DeviceInfoSize)
	off := 0
	copy(buf[off:off+DevicePathSize], d.Path[:])
	off += DevicePathSize
	copy(buf[off:off+BusIDSize], d.BusID[:])
	off += BusIDSize
	binary.BigEndian.PutUint32(buf[off:], d.Busnum)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], d.Devnum)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], d.Speed)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], d.IDVendor)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], d.IDProduct)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], d.BcdDevice)
	off += 2
	buf[off] = d.BDeviceClass
	buf[off+1] = d.BDeviceSubClass
	buf[off+2] = d.BDeviceProtocol
	buf[off+3] = d.BConfigurationValue
	buf[off+4] = d.BNumConfigurations
	buf[off+5] = d.BNumInterfaces
	return buf
}

func UnpackDeviceInfo(buf []byte) (DeviceInfo, error) {
	if len(buf) != DeviceInfoSize {
		return DeviceInfo{}, fmt.Errorf("usbip: DeviceInfo wants %d bytes, got %d", DeviceInfoSize, len(buf))
	}
	var d DeviceInfo
	off := 0
	copy(d.Path[:], buf[off:off+DevicePathSize])
	off += DevicePathSize
	copy(d.BusID[:], buf[off:off+BusIDSize])
	off += BusIDSize
	d.Busnum = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.Devnum = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.Speed = binary.BigEndian.Uint32(buf[off:])
	off += 4
	d.IDVendor = binary.BigEndian.Uint16(buf[off:])
	off += 2
	d.IDProduct = binary.BigEndian.Uint16(buf[off:])
	off += 2
	d.BcdDevice = binary.BigEndian.Uint16(buf[off:])
	off += 2
	d.BDeviceClass = buf[off]
	d.BDeviceSubClass = buf[off+1]
	d.BDeviceProtocol = buf[off+2]
	d.BConfigurationValue = buf[off+3]
	d.BNumConfigurations = buf[off+4]
	d.BNumInterfaces = buf[off+5]
	return d, nil
}

// WriteDevlistEntry writes a DeviceInfo followed by one InterfaceInfo per
// interface, as OP_REP_DEVLIST requires for each exported device.
func WriteDevlistEntry(w io.Writer, info DeviceInfo, ifaces []InterfaceInfo) error {
	if _, err := w.Write(info.Pack()); err != nil {
		return err
	}
	for _, ifc := range ifaces {
		if _, err := w.Write(ifc.Pack()); err != nil {
			return err
		}
	}
	return nil
}

// HeaderBasic is the common 20-byte preamble of every URB command/reply.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

func (h HeaderBasic) pack(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Seqnum)
	binary.BigEndian.PutUint32(buf[8:12], h.Devid)
	binary.BigEndian.PutUint32(buf[12:16], h.Dir)
	binary.BigEndian.PutUint32(buf[16:20], h.Ep)
}

func unpackHeaderBasic(buf []byte) HeaderBasic {
	return HeaderBasic{
		Command: binary.BigEndian.Uint32(buf[0:4]),
		Seqnum:  binary.BigEndian.Uint32(buf[4:8]),
		Devid:   binary.BigEndian.Uint32(buf[8:12]),
		Dir:     binary.BigEndian.Uint32(buf[12:16]),
		Ep:      binary.BigEndian.Uint32(buf[16:20]),
	}
}

// CmdSubmit is USBIP_CMD_SUBMIT's 48-byte header (not counting any OUT
// payload that follows it on the wire).
type CmdSubmit struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             Setup
}

func UnpackCmdSubmit(buf []byte) (CmdSubmit, error) {
	if len(buf) != URBHeaderSize {
		return CmdSubmit{}, fmt.Errorf("usbip: CmdSubmit wants %d bytes, got %d", URBHeaderSize, len(buf))
	}
	c := CmdSubmit{
		Basic:             unpackHeaderBasic(buf[0:20]),
		TransferFlags:     binary.BigEndian.Uint32(buf[20:24]),
		TransferBufferLen: binary.BigEndian.Uint32(buf[24:28]),
		StartFrame:        binary.BigEndian.Uint32(buf[28:32]),
		NumberOfPackets:   binary.BigEndian.Uint32(buf[32:36]),
		Interval:          binary.BigEndian.Uint32(buf[36:40]),
	}
	copy(c.Setup[:], buf[40:48])
	return c, nil
}

func (c CmdSubmit) Pack() []byte {
	buf := make([]byte, URBHeaderSize)
	c.Basic.pack(buf[0:20])
	binary.BigEndian.PutUint32(buf[20:24], c.TransferFlags)
	binary.BigEndian.PutUint32(buf[24:28], c.TransferBufferLen)
	binary.BigEndian.PutUint32(buf[28:32], c.StartFrame)
	binary.BigEndian.PutUint32(buf[32:36], c.NumberOfPackets)
	binary.BigEndian.PutUint32(buf[36:40], c.Interval)
	copy(buf[40:48], c.Setup[:])
	return buf
}

// RetSubmit is USBIP_RET_SUBMIT's 48-byte header (not counting any IN
// payload appended after it). NumberOfPackets is always zero: this server
// never answers isochronous transfers, so there is no packet descriptor
// array to report on.
type RetSubmit struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
}

func (r RetSubmit) Pack() []byte {
	buf := make([]byte, URBHeaderSize)
	r.Basic.pack(buf[0:20])
	binary.BigEndian.PutUint32(buf[20:24], uint32(r.Status))
	binary.BigEndian.PutUint32(buf[24:28], r.ActualLength)
	binary.BigEndian.PutUint32(buf[28:32], r.StartFrame)
	binary.BigEndian.PutUint32(buf[32:36], r.NumberOfPackets)
	binary.BigEndian.PutUint32(buf[36:40], r.ErrorCount)
	return buf
}

func UnpackRetSubmit(buf []byte) (RetSubmit, error) {
	if len(buf) != URBHeaderSize {
		return RetSubmit{}, fmt.Errorf("usbip: RetSubmit wants %d bytes, got %d", URBHeaderSize, len(buf))
	}
	return RetSubmit{
		Basic:           unpackHeaderBasic(buf[0:20]),
		Status:          int32(binary.BigEndian.Uint32(buf[20:24])),
		ActualLength:    binary.BigEndian.Uint32(buf[24:28]),
		StartFrame:      binary.BigEndian.Uint32(buf[28:32]),
		NumberOfPackets: binary.BigEndian.Uint32(buf[32:36]),
		ErrorCount:      binary.BigEndian.Uint32(buf[36:40]),
	}, nil
}

// CmdUnlink is USBIP_CMD_UNLINK's 48-byte frame.
type CmdUnlink struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
}

func UnpackCmdUnlink(buf []byte) (CmdUnlink, error) {
	if len(buf) != URBHeaderSize {
		return CmdUnlink{}, fmt.Errorf("usbip: CmdUnlink wants %d bytes, got %d", URBHeaderSize, len(buf))
	}
	return CmdUnlink{
		Basic:        unpackHeaderBasic(buf[0:20]),
		UnlinkSeqnum: binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

func (c CmdUnlink) Pack() []byte {
	buf := make([]byte, URBHeaderSize)
	c.Basic.pack(buf[0:20])
	binary.BigEndian.PutUint32(buf[20:24], c.UnlinkSeqnum)
	return buf
}

// RetUnlink is USBIP_RET_UNLINK's 48-byte frame. Status is 0 on a
// successful unlink; this server never races the URB it is unlinking
// (it handles submits synchronously) so there is no in-flight case to
// report a nonzero status for.
type RetUnlink struct {
	Basic  HeaderBasic
	Status int32
}

func (r RetUnlink) Pack() []byte {
	buf := make([]byte, URBHeaderSize)
	r.Basic.pack(buf[0:20])
	binary.BigEndian.PutUint32(buf[20:24], uint32(r.Status))
	return buf
}

func UnpackRetUnlink(buf []byte) (RetUnlink, error) {
	if len(buf) != URBHeaderSize {
		return RetUnlink{}, fmt.Errorf("usbip: RetUnlink wants %d bytes, got %d", URBHeaderSize, len(buf))
	}
	return RetUnlink{
		Basic:  unpackHeaderBasic(buf[0:20]),
		Status: int32(binary.BigEndian.Uint32(buf[20:24])),
	}, nil
}

// ReadExactly reads exactly len(buf) bytes, looping over short reads the
// way a TCP socket normally delivers them. EOF with nothing read yet is
// reported as io.EOF (clean disconnect between frames); EOF after a
// partial read is reported as io.ErrUnexpectedEOF (peer died mid-frame).
func ReadExactly(r io.Reader, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				if n == len(buf) {
					return nil
				}
				if n == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
