package usbip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupFieldsLittleEndian(t *testing.T) {
	// E4: 80 06 00 01 00 00 12 00 -> wValue=0x0100, wIndex=0, wLength=0x0012.
	s := Setup{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	require.Equal(t, uint8(0x80), s.BmRequestType())
	require.Equal(t, uint8(0x06), s.BRequest())
	require.Equal(t, uint16(0x0100), s.WValue())
	require.Equal(t, uint16(0), s.WIndex())
	require.Equal(t, uint16(0x0012), s.WLength())
	require.True(t, s.IsDeviceToHost())
}

func TestSetupNotReinterpretedAsBigEndian64(t *testing.T) {
	// Property 4: decoding must never treat the 8 bytes as one big-endian
	// 64-bit value and split that; wValue/wIndex/wLength are independent
	// little-endian reads at fixed byte offsets.
	s := NewSetup(0x00, 0x09, 0x0001, 0x0000, 0x0000)
	require.Equal(t, uint16(1), s.WValue())
	require.Equal(t, uint16(0), s.WIndex())
	require.Equal(t, uint16(0), s.WLength())
	require.False(t, s.IsDeviceToHost())
}

func TestSetupRequestTypeDecomposition(t *testing.T) {
	s := NewSetup(0x21, 0x0a, 0, 0, 0) // class, interface recipient, OUT
	require.Equal(t, uint8(1), s.RequestTypeKind())
	require.Equal(t, uint8(1), s.Recipient())
	require.False(t, s.IsDeviceToHost())
}

func TestNewSetupRoundTrip(t *testing.T) {
	s := NewSetup(0x80, 0x06, 0x0200, 0x0000, 0x0009)
	require.Equal(t, uint16(0x0200), s.WValue())
	require.Equal(t, uint16(0x0009), s.WLength())
}
