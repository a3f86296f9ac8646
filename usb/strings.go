package usb

// LANGIDEnglishUS is the 4-byte string descriptor reported for a
// GET_DESCRIPTOR(STRING) request at index 0: the supported language ID
// list, here advertising only English (US), 0x0409.
var LANGIDEnglishUS = []byte{0x04, 0x03, 0x09, 0x04}

// EncodeStringDescriptor converts s to a USB string descriptor: a
// bLength/bDescriptorType header followed by the string UTF-16LE encoded.
// Runes outside the Basic Multilingual Plane are not handled specially;
// every rune maps to a single 16-bit code unit, which is sufficient for
// the ASCII identity strings this system emits.
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf))
	buf[1] = StringDescType
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}
