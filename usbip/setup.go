package usbip

import "encoding/binary"

// Setup is the 8-byte USB control SETUP packet. It travels inside
// CmdSubmit.Setup as an opaque byte buffer: the USB/IP frame around it is
// big-endian, but the SETUP fields themselves are little-endian per the
// USB specification. Decoding it as a single big-endian 64-bit value and
// reinterpreting the halves is a documented mistake in older USB/IP
// reimplementations; this type always reads through
// encoding/binary.LittleEndian at fixed offsets instead.
type Setup [SetupSize]byte

// BmRequestType returns byte 0: direction, type, and recipient bits.
func (s Setup) BmRequestType() uint8 { return s[0] }

// BRequest returns byte 1: the standard or class/vendor request code.
func (s Setup) BRequest() uint8 { return s[1] }

// WValue returns the little-endian 16-bit value field at bytes 2-3.
func (s Setup) WValue() uint16 { return binary.LittleEndian.Uint16(s[2:4]) }

// WIndex returns the little-endian 16-bit index field at bytes 4-5.
func (s Setup) WIndex() uint16 { return binary.LittleEndian.Uint16(s[4:6]) }

// WLength returns the little-endian 16-bit length field at bytes 6-7: the
// maximum number of bytes the host expects in the data stage.
func (s Setup) WLength() uint16 { return binary.LittleEndian.Uint16(s[6:8]) }

// IsDeviceToHost reports whether bit 7 of bmRequestType marks an IN data
// stage (device to host) rather than an OUT one.
func (s Setup) IsDeviceToHost() bool { return s.BmRequestType()&0x80 != 0 }

// RequestTypeKind extracts bits 6-5 of bmRequestType: 0=standard,
// 1=class, 2=vendor, 3=reserved.
func (s Setup) RequestTypeKind() uint8 { return (s.BmRequestType() >> 5) & 0x3 }

// Recipient extracts bits 4-0 of bmRequestType: 0=device, 1=interface,
// 2=endpoint, 3=other.
func (s Setup) Recipient() uint8 { return s.BmRequestType() & 0x1f }

// NewSetup packs the five SETUP fields into their wire layout.
func NewSetup(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) Setup {
	var s Setup
	s[0] = bmRequestType
	s[1] = bRequest
	binary.LittleEndian.PutUint16(s[2:4], wValue)
	binary.LittleEndian.PutUint16(s[4:6], wIndex)
	binary.LittleEndian.PutUint16(s[6:8], wLength)
	return s
}
