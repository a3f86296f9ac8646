package usb

// Device is the interface every exported virtual device implements. It
// holds its own descriptor tree and answers non-control endpoint traffic;
// control endpoint (ep 0) traffic is handled centrally by HandleControlRequest
// against GetDescriptor, with an optional hand-off to ControlDevice for
// class/vendor requests.
type Device interface {
	// HandleTransfer answers a non-control transfer on ep, in direction
	// dir (DirIn/DirOut from package usbip). wantLen is the URB's
	// transfer_buffer_length: for an IN transfer, out is nil and
	// wantLen bounds how much reply data is wanted; for an OUT
	// transfer, out holds the len(out) == wantLen bytes the host sent.
	HandleTransfer(ep uint32, dir uint32, out []byte, wantLen uint32) []byte
	GetDescriptor() *Descriptor
}

// ControlDevice is implemented by devices that need to answer class or
// vendor control requests beyond the standard set HandleControlRequest
// already covers. ok reports whether the device handled the request; when
// false the caller falls back to an empty success reply.
type ControlDevice interface {
	HandleControl(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte) (reply []byte, ok bool)
}
