// Package printer implements an IPP-over-USB printer: a usb.Device that
// forwards its bulk endpoint traffic to an upstream IPP server over TCP,
// proxying raw bytes rather than parsing the IPP/HTTP protocol itself.
package printer

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/mdimado/py-virtualippusb/usb"
)

const (
	epBulkOut = 1
	epBulkIn  = 2

	// IEEE 1284 device ID and port-status control requests, issued by
	// the host with bmRequestType 0xA1 (class, interface, device-to-host).
	reqGetDeviceID   = 0x00
	reqGetPortStatus = 0x01

	backendDialTimeout = 10 * time.Second
	backendReadTimeout = 100 * time.Millisecond
)

// Printer is a virtual IPP-over-USB printer. Its descriptor advertises
// the printer class (0x07) with the bidirectional protocol (0x02) and a
// bulk OUT/bulk IN endpoint pair; HandleTransfer relays whatever bytes
// cross those endpoints to and from cfg.IPPServerURL's host:port.
type Printer struct {
	cfg        Config
	descriptor usb.Descriptor

	backendMu   sync.Mutex
	backendConn net.Conn
	pending     []byte
}

// New builds a Printer from cfg. It does not dial the backend; the
// connection is established lazily on first bulk OUT transfer.
func New(cfg Config) (*Printer, error) {
	if _, err := backendAddr(cfg.IPPServerURL); err != nil {
		return nil, fmt.Errorf("printer: %w", err)
	}

	p := &Printer{cfg: cfg}
	p.descriptor = usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB:             0x0200,
			BDeviceClass:       0x07,
			BDeviceSubClass:    0x01,
			BDeviceProtocol:    0x02,
			BMaxPacketSize0:    0x40,
			IDVendor:           cfg.VendorID,
			IDProduct:          cfg.ProductID,
			BcdDevice:          0x0100,
			IManufacturer:      1,
			IProduct:           2,
			ISerialNumber:      3,
			BNumConfigurations: 1,
		},
		Configuration: usb.Configuration{
			Header: usb.ConfigHeader{
				BConfigurationValue: 1,
				BMAttributes:        0xC0,
				BMaxPower:           0x32,
			},
			Interfaces: []usb.Interface{{
				Descriptor: usb.InterfaceDescriptor{
					BInterfaceNumber:   0,
					BInterfaceClass:    0x07,
					BInterfaceSubClass: 0x01,
					BInterfaceProtocol: 0x02,
				},
				Endpoints: []usb.EndpointDescriptor{
					{BEndpointAddress: 0x01, BMAttributes: 0x02, WMaxPacketSize: 0x0200},
					{BEndpointAddress: 0x82, BMAttributes: 0x02, WMaxPacketSize: 0x0200},
				},
			}},
		},
		Strings: map[uint8]string{
			1: cfg.Manufacturer,
			2: cfg.Product,
			3: cfg.Serial,
		},
	}
	return p, nil
}

func backendAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse ipp_server_url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "631"
	}
	return net.JoinHostPort(host, port), nil
}

func (p *Printer) GetDescriptor() *usb.Descriptor { return &p.descriptor }

// HandleTransfer relays bulk OUT data to the backend and returns
// previously-buffered backend responses on bulk IN reads.
func (p *Printer) HandleTransfer(ep, dir uint32, out []byte, wantLen uint32) []byte {
	switch ep {
	case epBulkOut:
		p.handleBulkOut(out)
		return nil
	case epBulkIn:
		return p.handleBulkIn(wantLen)
	default:
		return nil
	}
}

func (p *Printer) handleBulkOut(out []byte) {
	if len(out) == 0 {
		return
	}
	p.backendMu.Lock()
	defer p.backendMu.Unlock()

	conn, err := p.ensureBackendLocked()
	if err != nil {
		return
	}
	if _, err := conn.Write(out); err != nil {
		p.closeBackendLocked()
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(backendReadTimeout))
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	_ = conn.SetReadDeadline(time.Time{})
	if n > 0 {
		p.pending = append(p.pending, buf[:n]...)
	}
	if err != nil && !isTimeout(err) {
		p.closeBackendLocked()
	}
}

func (p *Printer) handleBulkIn(wantLen uint32) []byte {
	p.backendMu.Lock()
	defer p.backendMu.Unlock()

	if len(p.pending) > 0 {
		n := uint32(len(p.pending))
		if wantLen > 0 && wantLen < n {
			n = wantLen
		}
		chunk := p.pending[:n]
		p.pending = p.pending[n:]
		return chunk
	}

	if p.backendConn == nil {
		return []byte{}
	}

	readLen := wantLen
	if readLen == 0 {
		readLen = 8192
	}
	_ = p.backendConn.SetReadDeadline(time.Now().Add(backendReadTimeout))
	buf := make([]byte, readLen)
	n, err := p.backendConn.Read(buf)
	_ = p.backendConn.SetReadDeadline(time.Time{})
	if n > 0 {
		return buf[:n]
	}
	if err != nil && !isTimeout(err) {
		p.closeBackendLocked()
	}
	return []byte{}
}

// ensureBackendLocked dials the backend if not already connected. Callers
// must hold backendMu.
func (p *Printer) ensureBackendLocked() (net.Conn, error) {
	if p.backendConn != nil {
		return p.backendConn, nil
	}
	addr, err := backendAddr(p.cfg.IPPServerURL)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("tcp", addr, backendDialTimeout)
	if err != nil {
		return nil, err
	}
	p.backendConn = conn
	return conn, nil
}

func (p *Printer) closeBackendLocked() {
	if p.backendConn != nil {
		_ = p.backendConn.Close()
		p.backendConn = nil
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// HandleControl answers the IEEE 1284 DEVICE_ID / GET_PORT_STATUS class
// requests real printer-class hosts issue, and acknowledges soft resets.
func (p *Printer) HandleControl(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte) ([]byte, bool) {
	switch bmRequestType {
	case 0xA1: // class, interface, device-to-host
		switch bRequest {
		case reqGetDeviceID:
			id := fmt.Sprintf("MFG:%s;CMD:PostScript,PDF;MDL:%s;CLS:PRINTER;", p.cfg.Manufacturer, p.cfg.Product)
			idBytes := []byte(id)
			reply := make([]byte, 2+len(idBytes))
			reply[0] = byte(len(idBytes) >> 8)
			reply[1] = byte(len(idBytes))
			copy(reply[2:], idBytes)
			return reply, true
		case reqGetPortStatus:
			return []byte{0x18}, true
		}
	case 0x21: // class, interface, host-to-device: soft reset
		if bRequest == 0x02 {
			return []byte{}, true
		}
	}
	return nil, false
}
