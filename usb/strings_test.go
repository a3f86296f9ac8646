package usb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeStringDescriptor(t *testing.T) {
	b := EncodeStringDescriptor("Hi")
	require.Equal(t, []byte{6, StringDescType, 'H', 0x00, 'i', 0x00}, b)
}

func TestLANGIDEnglishUS(t *testing.T) {
	require.Equal(t, []byte{0x04, 0x03, 0x09, 0x04}, LANGIDEnglishUS)
}
