// Package virtualbus assigns bus/device numbers and sysfs-style identity
// to the devices a server exports, independent of the session logic that
// later answers USB/IP requests against them.
package virtualbus

import (
	"fmt"
	"sync"

	"github.com/mdimado/py-virtualippusb/usb"
	"github.com/mdimado/py-virtualippusb/usbip"
)

const pathTemplate = "/sys/devices/pci0000:00/0000:00:01.2/usb%d/%s"

// Speed codes as carried in DeviceInfo.Speed, matching the values the
// USB/IP wire protocol itself uses (not the Linux USB core's own
// enumeration, which numbers full speed 2 and high speed 3): 1=low,
// 2=high, 3=full, 4=super.
const (
	SpeedLow   = 1
	SpeedHigh  = 2
	SpeedFull  = 3
	SpeedSuper = 4
)

// VirtualBus holds the devices exported on one USB/IP bus number and
// assigns each a device number and sysfs path on registration. The list
// is built once at server startup; nothing in this system mutates it
// concurrently with lookups, so registration happens before any session
// can observe the bus.
type VirtualBus struct {
	mu        sync.Mutex
	busnum    uint32
	nextDevID uint32
	entries   []entry
}

type entry struct {
	dev  usb.Device
	info usbip.DeviceInfo
}

// New creates an empty bus with the given bus number.
func New(busnum uint32) *VirtualBus {
	return &VirtualBus{busnum: busnum, nextDevID: 1}
}

// BusNum returns this bus's number.
func (vb *VirtualBus) BusNum() uint32 { return vb.busnum }

// Add registers dev with the given USB speed, assigning it the next free
// device number on this bus and building its DeviceInfo (path, busID,
// identity fields taken from the device's own descriptor).
func (vb *VirtualBus) Add(dev usb.Device, speed uint32) usbip.DeviceInfo {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	devnum := vb.nextDevID + 1 // devnum 1 is reserved for the bus root hub
	vb.nextDevID++

	busID := fmt.Sprintf("%d-%d", vb.busnum, devnum-1)
	path := fmt.Sprintf(pathTemplate, vb.busnum, busID)

	desc := dev.GetDescriptor()
	var info usbip.DeviceInfo
	info.SetPath(path)
	info.SetBusID(busID)
	info.Busnum = vb.busnum
	info.Devnum = devnum
	info.Speed = speed
	info.IDVendor = desc.Device.IDVendor
	info.IDProduct = desc.Device.IDProduct
	info.BcdDevice = desc.Device.BcdDevice
	info.BDeviceClass = desc.Device.BDeviceClass
	info.BDeviceSubClass = desc.Device.BDeviceSubClass
	info.BDeviceProtocol = desc.Device.BDeviceProtocol
	info.BConfigurationValue = desc.Configuration.Header.BConfigurationValue
	info.BNumConfigurations = 1
	info.BNumInterfaces = uint8(desc.NumInterfaces())

	vb.entries = append(vb.entries, entry{dev: dev, info: info})
	return info
}

// List returns every exported device's DeviceInfo and per-interface
// InterfaceInfo, in registration order, for an OP_REP_DEVLIST reply.
func (vb *VirtualBus) List() []DeviceListing {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	out := make([]DeviceListing, 0, len(vb.entries))
	for _, e := range vb.entries {
		out = append(out, DeviceListing{Info: e.info, Interfaces: interfaceInfos(e.dev)})
	}
	return out
}

// DeviceListing pairs one device's DeviceInfo with its InterfaceInfo list.
type DeviceListing struct {
	Info       usbip.DeviceInfo
	Interfaces []usbip.InterfaceInfo
}

// Lookup finds the device whose NUL-trimmed busID matches busID, for an
// OP_REQ_IMPORT match.
func (vb *VirtualBus) Lookup(busID string) (usb.Device, usbip.DeviceInfo, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	for _, e := range vb.entries {
		if e.info.BusIDString() == busID {
			return e.dev, e.info, true
		}
	}
	return nil, usbip.DeviceInfo{}, false
}

func interfaceInfos(dev usb.Device) []usbip.InterfaceInfo {
	ifaces := dev.GetDescriptor().Configuration.Interfaces
	out := make([]usbip.InterfaceInfo, 0, len(ifaces))
	for _, ifc := range ifaces {
		out = append(out, usbip.InterfaceInfo{
			Class:    ifc.Descriptor.BInterfaceClass,
			SubClass: ifc.Descriptor.BInterfaceSubClass,
			Protocol: ifc.Descriptor.BInterfaceProtocol,
		})
	}
	return out
}
