// Package keyboard provides a HID keyboard device implementation with full N-key rollover.
package keyboard

import (
	"sync"
	"sync/atomic"

	"github.com/mdimado/py-virtualippusb/device"
	"github.com/mdimado/py-virtualippusb/usb"
	"github.com/mdimado/py-virtualippusb/usbip"
)

// Keyboard implements usb.Device for a full HID keyboard with LED support.
type Keyboard struct {
	tick        uint64
	inputState  *InputState
	stateMu     sync.Mutex
	ledState    uint8
	ledCallback func(LEDState)
	descriptor  usb.Descriptor
}

// New returns a new Keyboard device, applying any identity overrides in o.
func New(o *device.CreateOptions) (*Keyboard, error) {
	k := &Keyboard{descriptor: defaultDescriptor}
	if o != nil {
		if o.IDVendor != nil {
			k.descriptor.Device.IDVendor = *o.IDVendor
		}
		if o.IDProduct != nil {
			k.descriptor.Device.IDProduct = *o.IDProduct
		}
	}
	return k, nil
}

// SetLEDCallback sets a callback invoked whenever the host writes new LED state.
func (k *Keyboard) SetLEDCallback(f func(LEDState)) {
	k.ledCallback = f
}

// GetLEDState returns the current LED state reported by the host.
func (k *Keyboard) GetLEDState() LEDState {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	var ls LEDState
	_ = ls.UnmarshalBinary([]byte{k.ledState})
	return ls
}

// UpdateInputState replaces the device's current input state.
func (k *Keyboard) UpdateInputState(state InputState) {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	k.inputState = &state
}

// HandleTransfer implements the interrupt IN (report) / OUT (LEDs) endpoint pair.
func (k *Keyboard) HandleTransfer(ep uint32, dir uint32, out []byte, wantLen uint32) []byte {
	if dir == usbip.DirIn && ep == 1 {
		atomic.AddUint64(&k.tick, 1)
		k.stateMu.Lock()
		var st InputState
		if k.inputState != nil {
			st = *k.inputState
		}
		k.stateMu.Unlock()
		return st.BuildReport()
	}
	if dir == usbip.DirOut && ep == 1 && len(out) >= 1 {
		k.stateMu.Lock()
		k.ledState = out[0]
		k.stateMu.Unlock()
		if k.ledCallback != nil {
			var ls LEDState
			_ = ls.UnmarshalBinary(out[:1])
			k.ledCallback(ls)
		}
	}
	return nil
}

func (k *Keyboard) GetDescriptor() *usb.Descriptor {
	return &k.descriptor
}

// keyboardReportDescriptor is the HID report descriptor for a full
// keyboard: an 8-bit modifier byte, a reserved byte, a 256-bit key usage
// bitmap (input), and a 5-bit LED bitmap padded to a byte (output).
// Written as raw bytes rather than a descriptor DSL: no HID item-builder
// package exists in this repository, and a report descriptor this fixed
// gains nothing from one.
var keyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0xE0, //   Usage Minimum (0xE0, Left Control)
	0x29, 0xE7, //   Usage Maximum (0xE7, Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data,Var,Abs) - modifier byte
	0x75, 0x08, //   Report Size (8)
	0x95, 0x01, //   Report Count (1)
	0x81, 0x01, //   Input (Const) - reserved byte
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0xFF, //   Usage Maximum (255)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x96, 0x00, 0x01, //   Report Count (256), 2-byte data
	0x81, 0x02, //   Input (Data,Var,Abs) - key bitmap
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (Num Lock)
	0x29, 0x05, //   Usage Maximum (Kana)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x05, //   Report Count (5)
	0x91, 0x02, //   Output (Data,Var,Abs) - LED bitmap
	0x75, 0x03, //   Report Size (3)
	0x95, 0x01, //   Report Count (1)
	0x91, 0x01, //   Output (Const) - LED padding
	0xC0, // End Collection
}

func hidExtraDescriptors() [][]byte {
	hid := []byte{
		0x09, usb.HIDDescType,
		0x11, 0x01, // bcdHID 1.11
		0x00,       // bCountryCode
		0x01,       // bNumDescriptors
		usb.ReportDescType,
		byte(len(keyboardReportDescriptor)),
		byte(len(keyboardReportDescriptor) >> 8),
	}
	return [][]byte{hid, keyboardReportDescriptor}
}

var defaultDescriptor = usb.Descriptor{
	Device: usb.DeviceDescriptor{
		BcdUSB:             0x0200,
		BDeviceClass:       0x00,
		BDeviceSubClass:    0x00,
		BDeviceProtocol:    0x00,
		BMaxPacketSize0:    0x40,
		IDVendor:           0x2E8A,
		IDProduct:          0x0010,
		BcdDevice:          0x0100,
		IManufacturer:      0x01,
		IProduct:           0x02,
		ISerialNumber:      0x03,
		BNumConfigurations: 0x01,
	},
	Configuration: usb.Configuration{
		Header: usb.ConfigHeader{BConfigurationValue: 1, BMAttributes: 0x80, BMaxPower: 50},
		Interfaces: []usb.Interface{
			{
				Descriptor: usb.InterfaceDescriptor{
					BInterfaceNumber:   0x00,
					BAlternateSetting:  0x00,
					BInterfaceClass:    0x03, // HID
					BInterfaceSubClass: 0x00,
					BInterfaceProtocol: 0x00,
					IInterface:         0x00,
				},
				Extras: hidExtraDescriptors(),
				Endpoints: []usb.EndpointDescriptor{
					{BEndpointAddress: 0x81, BMAttributes: 0x03, WMaxPacketSize: 0x0040, BInterval: 0x05},
					{BEndpointAddress: 0x01, BMAttributes: 0x03, WMaxPacketSize: 0x0008, BInterval: 0x05},
				},
			},
		},
	},
	Strings: map[uint8]string{
		1: "py-virtualippusb",
		2: "HID Keyboard",
		3: "1337",
	},
}
