package virtualbus

import (
	"testing"

	"github.com/mdimado/py-virtualippusb/usb"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	desc *usb.Descriptor
}

func (f *fakeDevice) HandleTransfer(ep, dir uint32, out []byte, wantLen uint32) []byte { return nil }
func (f *fakeDevice) GetDescriptor() *usb.Descriptor { return f.desc }

func newFakeDevice(vendor, product uint16) *fakeDevice {
	return &fakeDevice{desc: &usb.Descriptor{
		Device: usb.DeviceDescriptor{IDVendor: vendor, IDProduct: product, BDeviceClass: 0x07},
		Configuration: usb.Configuration{
			Header:     usb.ConfigHeader{BConfigurationValue: 1},
			Interfaces: []usb.Interface{{Descriptor: usb.InterfaceDescriptor{BInterfaceClass: 0x07, BInterfaceSubClass: 0x01, BInterfaceProtocol: 0x02}}},
		},
	}}
}

func TestAddAssignsSequentialDevnumAndBusID(t *testing.T) {
	bus := New(1)
	dev1 := newFakeDevice(0x1234, 0x0001)
	dev2 := newFakeDevice(0x1234, 0x0002)

	info1 := bus.Add(dev1, SpeedHigh)
	info2 := bus.Add(dev2, SpeedHigh)

	require.Equal(t, uint32(2), info1.Devnum)
	require.Equal(t, "1-1", info1.BusIDString())
	require.Equal(t, uint32(3), info2.Devnum)
	require.Equal(t, "1-2", info2.BusIDString())
}

func TestAddPopulatesIdentityFromDescriptor(t *testing.T) {
	bus := New(1)
	dev := newFakeDevice(0xABCD, 0xEF01)
	info := bus.Add(dev, SpeedHigh)

	require.Equal(t, uint16(0xABCD), info.IDVendor)
	require.Equal(t, uint16(0xEF01), info.IDProduct)
	require.Equal(t, uint8(0x07), info.BDeviceClass)
	require.Equal(t, uint8(1), info.BNumInterfaces)
	require.Equal(t, uint32(SpeedHigh), info.Speed)
}

func TestListReturnsDeviceInfoAndInterfaces(t *testing.T) {
	bus := New(1)
	bus.Add(newFakeDevice(0x1234, 0x5678), SpeedHigh)

	listings := bus.List()
	require.Len(t, listings, 1)
	require.Len(t, listings[0].Interfaces, 1)
	require.Equal(t, uint8(0x07), listings[0].Interfaces[0].Class)
}

func TestLookupMatchesByBusID(t *testing.T) {
	bus := New(1)
	dev := newFakeDevice(0x1234, 0x5678)
	bus.Add(dev, SpeedHigh)

	found, info, ok := bus.Lookup("1-1")
	require.True(t, ok)
	require.Same(t, dev, found)
	require.Equal(t, "1-1", info.BusIDString())
}

func TestLookupUnknownBusID(t *testing.T) {
	bus := New(1)
	bus.Add(newFakeDevice(0x1234, 0x5678), SpeedHigh)

	_, _, ok := bus.Lookup("no-such")
	require.False(t, ok)
}
