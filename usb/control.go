package usb

// Standard control request codes (bRequest values), recipient device.
const (
	ReqGetStatus        = 0x00
	ReqSetAddress       = 0x05
	ReqGetDescriptor    = 0x06
	ReqSetDescriptor    = 0x07
	ReqGetConfiguration = 0x08
	ReqSetConfiguration = 0x09
)

// bmRequestType decomposition.
const (
	reqDirDeviceToHost = 0x80
	reqTypeStandard    = 0x00
	reqTypeMask        = 0x60
	reqRecipientMask   = 0x1f
	recipientDevice    = 0x00
)

func requestTypeKind(bmRequestType uint8) uint8 { return (bmRequestType & reqTypeMask) }
func recipient(bmRequestType uint8) uint8       { return bmRequestType & reqRecipientMask }

func truncate(b []byte, wLength uint16) []byte {
	if b == nil {
		return []byte{}
	}
	if uint16(len(b)) > wLength {
		return b[:wLength]
	}
	return b
}

// HandleControlRequest answers a control transfer on endpoint 0 for dev,
// decoded from its SETUP fields. It implements the standard-request
// dispatch table: GET_DESCRIPTOR (device/configuration/string),
// GET_STATUS, GET_CONFIGURATION, SET_CONFIGURATION, SET_ADDRESS and
// SET_DESCRIPTOR short-circuit to their documented replies; any standard
// request this table doesn't name, and any class/interface/vendor
// request, falls through to dev's ControlDevice hook if it implements
// one, and otherwise to an empty success reply. Every reply is truncated
// to wLength, mirroring USB short-packet semantics.
func HandleControlRequest(dev Device, bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte) []byte {
	if requestTypeKind(bmRequestType) == reqTypeStandard && recipient(bmRequestType) == recipientDevice {
		if reply, handled := handleStandardDeviceRequest(dev, bmRequestType, bRequest, wValue, wIndex, wLength); handled {
			return reply
		}
	}

	if cd, ok := dev.(ControlDevice); ok {
		if reply, handled := cd.HandleControl(bmRequestType, bRequest, wValue, wIndex, wLength, data); handled {
			return truncate(reply, wLength)
		}
	}

	return []byte{}
}

func handleStandardDeviceRequest(dev Device, bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) ([]byte, bool) {
	switch bRequest {
	case ReqGetDescriptor:
		if bmRequestType&reqDirDeviceToHost == 0 {
			return nil, false
		}
		return truncate(describeByType(dev, wValue), wLength), true
	case ReqGetStatus:
		return truncate([]byte{0x01, 0x00}, wLength), true
	case ReqGetConfiguration:
		return truncate([]byte{0x01}, wLength), true
	case ReqSetConfiguration:
		return []byte{}, true
	case ReqSetAddress:
		return []byte{}, true
	case ReqSetDescriptor:
		return []byte{}, true
	default:
		return nil, false
	}
}

func describeByType(dev Device, wValue uint16) []byte {
	descType := uint8(wValue >> 8)
	descIndex := uint8(wValue)
	desc := dev.GetDescriptor()

	switch descType {
	case DeviceDescType:
		return desc.DeviceBytes()
	case ConfigDescType:
		return desc.ConfigurationBytes()
	case StringDescType:
		if descIndex == 0 {
			return LANGIDEnglishUS
		}
		if s, ok := desc.Strings[descIndex]; ok {
			return EncodeStringDescriptor(s)
		}
		return []byte{}
	default:
		return []byte{}
	}
}
