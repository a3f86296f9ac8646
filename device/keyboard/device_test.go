package keyboard

import (
	"bytes"
	"testing"

	"github.com/mdimado/py-virtualippusb/device"
	"github.com/mdimado/py-virtualippusb/usbip"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesIdentityOverrides(t *testing.T) {
	vid := uint16(0xCAFE)
	kb, err := New(&device.CreateOptions{IDVendor: &vid})
	require.NoError(t, err)
	require.Equal(t, vid, kb.GetDescriptor().Device.IDVendor)
	require.Equal(t, defaultDescriptor.Device.IDProduct, kb.GetDescriptor().Device.IDProduct)
}

func TestNewWithNilOptionsUsesDefaults(t *testing.T) {
	kb, err := New(nil)
	require.NoError(t, err)
	require.Equal(t, defaultDescriptor.Device.IDVendor, kb.GetDescriptor().Device.IDVendor)
}

func TestHandleTransferReportIn(t *testing.T) {
	kb, _ := New(nil)
	kb.UpdateInputState(InputState{Modifiers: ModLeftShift})
	reply := kb.HandleTransfer(1, usbip.DirIn, nil, 34)
	require.Len(t, reply, 34)
	require.Equal(t, uint8(ModLeftShift), reply[0])
}

func TestHandleTransferUnknownEndpointReturnsNil(t *testing.T) {
	kb, _ := New(nil)
	require.Nil(t, kb.HandleTransfer(2, usbip.DirIn, nil, 34))
}

func TestHandleTransferLEDOutUpdatesState(t *testing.T) {
	kb, _ := New(nil)
	var captured LEDState
	kb.SetLEDCallback(func(ls LEDState) { captured = ls })

	reply := kb.HandleTransfer(1, usbip.DirOut, []byte{LEDCapsLock | LEDNumLock}, 1)
	require.Nil(t, reply)
	require.True(t, captured.CapsLock)
	require.True(t, captured.NumLock)
	require.False(t, captured.ScrollLock)

	got := kb.GetLEDState()
	require.Equal(t, captured, got)
}

func TestGetDescriptorHasHIDInterface(t *testing.T) {
	kb, _ := New(nil)
	desc := kb.GetDescriptor()
	require.Len(t, desc.Configuration.Interfaces, 1)
	iface := desc.Configuration.Interfaces[0]
	require.Equal(t, uint8(0x03), iface.Descriptor.BInterfaceClass)
	require.Len(t, iface.Extras, 2, "HID descriptor + report descriptor")
	require.Len(t, iface.Endpoints, 2)
}

func TestConfigurationBytesIncludesHIDExtras(t *testing.T) {
	kb, _ := New(nil)
	blob := kb.GetDescriptor().ConfigurationBytes()
	require.True(t, bytes.Contains(blob, keyboardReportDescriptor))
}
