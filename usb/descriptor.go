// Package usb models the USB descriptor tree (device, configuration,
// interface, endpoint) and the standard control-transfer dispatch that
// answers requests against it.
package usb

import (
	"bytes"
	"encoding/binary"
)

// Descriptor type bytes, as carried in bDescriptorType / the high byte of
// a GET_DESCRIPTOR wValue.
const (
	DeviceDescType    = 0x01
	ConfigDescType    = 0x02
	StringDescType    = 0x03
	InterfaceDescType = 0x04
	EndpointDescType  = 0x05
	HIDDescType       = 0x21
	ReportDescType    = 0x22
)

// Fixed descriptor lengths, in bytes, per the USB specification.
const (
	DeviceDescLen    = 18
	ConfigDescLen    = 9
	InterfaceDescLen = 9
	EndpointDescLen  = 7
)

// DeviceDescriptor is the standard 18-byte device descriptor, minus the
// bLength/bDescriptorType header which Bytes() fills in.
type DeviceDescriptor struct {
	BcdUSB             uint16
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16
	IDProduct          uint16
	BcdDevice          uint16
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
}

// Bytes serialises the device descriptor to its 18-byte wire form.
// Multi-byte fields are little-endian per USB, in contrast to the
// big-endian USB/IP envelope that eventually carries this blob.
func (d DeviceDescriptor) Bytes() []byte {
	var b bytes.Buffer
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DeviceDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdUSB)
	b.WriteByte(d.BDeviceClass)
	b.WriteByte(d.BDeviceSubClass)
	b.WriteByte(d.BDeviceProtocol)
	b.WriteByte(d.BMaxPacketSize0)
	_ = binary.Write(&b, binary.LittleEndian, d.IDVendor)
	_ = binary.Write(&b, binary.LittleEndian, d.IDProduct)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdDevice)
	b.WriteByte(d.IManufacturer)
	b.WriteByte(d.IProduct)
	b.WriteByte(d.ISerialNumber)
	b.WriteByte(d.BNumConfigurations)
	return b.Bytes()
}

// ConfigHeader is the 9-byte configuration descriptor header. WTotalLength
// is filled in by Descriptor.ConfigurationBytes after the full blob is
// assembled, not by the caller.
type ConfigHeader struct {
	BConfigurationValue uint8
	IConfiguration      uint8
	BMAttributes        uint8
	BMaxPower           uint8
}

func (h ConfigHeader) write(b *bytes.Buffer, totalLength uint16, numInterfaces uint8) {
	b.WriteByte(ConfigDescLen)
	b.WriteByte(ConfigDescType)
	_ = binary.Write(b, binary.LittleEndian, totalLength)
	b.WriteByte(numInterfaces)
	b.WriteByte(h.BConfigurationValue)
	b.WriteByte(h.IConfiguration)
	b.WriteByte(h.BMAttributes)
	b.WriteByte(h.BMaxPower)
}

// InterfaceDescriptor is the 9-byte standard interface descriptor.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) write(b *bytes.Buffer, numEndpoints uint8) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(InterfaceDescType)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(numEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// EndpointDescriptor is the 7-byte standard endpoint descriptor.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16
	BInterval        uint8
}

func (e EndpointDescriptor) write(b *bytes.Buffer) {
	b.WriteByte(EndpointDescLen)
	b.WriteByte(EndpointDescType)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
}

// Interface is one interface owned by a configuration: its descriptor,
// endpoints, and any class-specific extra descriptors (e.g. a HID
// descriptor followed by its report descriptor) that must be interleaved
// into the configuration blob immediately after the interface descriptor.
type Interface struct {
	Descriptor InterfaceDescriptor
	Extras     [][]byte
	Endpoints  []EndpointDescriptor
}

// Configuration is the single configuration this system ever attaches
// (spec carries exactly one configuration per device).
type Configuration struct {
	Header     ConfigHeader
	Interfaces []Interface
}

// Descriptor is the full descriptor tree for one virtual device: a device
// descriptor, its single configuration, and the string table addressed by
// iManufacturer/iProduct/iSerialNumber/iInterface indices.
type Descriptor struct {
	Device        DeviceDescriptor
	Configuration Configuration
	Strings       map[uint8]string
}

// DeviceBytes returns the 18-byte device descriptor, with
// BNumConfigurations forced to 1 (this system always attaches exactly one
// configuration).
func (d *Descriptor) DeviceBytes() []byte {
	dd := d.Device
	dd.BNumConfigurations = 1
	return dd.Bytes()
}

// ConfigurationBytes serialises the configuration descriptor followed by,
// for each interface in order, its interface descriptor, its extras, and
// its endpoint descriptors — then back-patches wTotalLength to the exact
// length of the assembled blob.
func (d *Descriptor) ConfigurationBytes() []byte {
	cfg := d.Configuration
	var b bytes.Buffer
	// Reserve the 9-byte header; filled in below once the total length
	// is known.
	b.Write(make([]byte, ConfigDescLen))
	for _, iface := range cfg.Interfaces {
		iface.Descriptor.write(&b, uint8(len(iface.Endpoints)))
		for _, extra := range iface.Extras {
			b.Write(extra)
		}
		for _, ep := range iface.Endpoints {
			ep.write(&b)
		}
	}
	out := b.Bytes()
	var head bytes.Buffer
	cfg.Header.write(&head, uint16(len(out)), uint8(len(cfg.Interfaces)))
	copy(out[:ConfigDescLen], head.Bytes())
	return out
}

// NumInterfaces reports the configuration's interface count.
func (d *Descriptor) NumInterfaces() int { return len(d.Configuration.Interfaces) }
