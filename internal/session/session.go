// Package session implements the per-connection USB/IP state machine: the
// OP phase (device list / import) and, once a client has attached, the
// URB phase (command submit / unlink).
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/mdimado/py-virtualippusb/internal/rawlog"
	"github.com/mdimado/py-virtualippusb/usb"
	"github.com/mdimado/py-virtualippusb/usbip"
	"github.com/mdimado/py-virtualippusb/virtualbus"
)

// Config holds the per-read deadlines recommended for each phase of a
// session. Zero values disable the corresponding deadline.
type Config struct {
	OpDeadline      time.Duration
	URBDeadline     time.Duration
	PayloadDeadline time.Duration
}

// DefaultConfig matches the deadlines this protocol is specified against.
func DefaultConfig() Config {
	return Config{
		OpDeadline:      10 * time.Second,
		URBDeadline:     30 * time.Second,
		PayloadDeadline: 10 * time.Second,
	}
}

// DeviceSource is the read-only registry a session consults during the OP
// phase. *virtualbus.VirtualBus satisfies it.
type DeviceSource interface {
	List() []virtualbus.DeviceListing
	Lookup(busID string) (usb.Device, usbip.DeviceInfo, bool)
}

// Session runs one client connection to completion: ExpectOp, optionally
// transitioning to Attached, ending in Closed (this type's Run returning).
type Session struct {
	conn    net.Conn
	logger  *slog.Logger
	raw     rawlog.Logger
	devices DeviceSource
	cfg     Config
}

// New constructs a Session over conn. raw may be rawlog.Noop() to disable
// raw byte capture.
func New(conn net.Conn, devices DeviceSource, logger *slog.Logger, raw rawlog.Logger, cfg Config) *Session {
	return &Session{conn: conn, logger: logger, raw: raw, devices: devices, cfg: cfg}
}

// Run drives the session until the connection closes, a protocol error
// occurs, or a deadline expires. It always closes the underlying
// connection before returning.
func (s *Session) Run() error {
	defer s.conn.Close()

	conn := &rawlog.Conn{ReadWriteCloser: s.conn, Logger: s.raw}

	dev, ok, err := s.expectOp(conn)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.attachedLoop(conn, dev)
}

// expectOp implements the ExpectOp state: it answers DEVLIST requests and
// loops, or answers IMPORT and returns the attached device on success.
func (s *Session) expectOp(conn *rawlog.Conn) (usb.Device, bool, error) {
	for {
		if err := s.conn.SetReadDeadline(deadline(s.cfg.OpDeadline)); err != nil {
			return nil, false, err
		}
		var hdr [usbip.MgmtHeaderSize]byte
		if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
			return nil, false, closeErr("read op header", err)
		}
		mgmt, err := usbip.UnpackMgmtHeader(hdr[:])
		if err != nil {
			return nil, false, err
		}

		switch mgmt.Command {
		case usbip.OpReqDevlist:
			if err := s.replyDevlist(conn); err != nil {
				return nil, false, err
			}
			// Stays in ExpectOp: a client that just wants the list
			// typically closes the connection itself.
		case usbip.OpReqImport:
			dev, attached, err := s.handleImport(conn)
			if err != nil || !attached {
				return nil, false, err
			}
			return dev, true, nil
		default:
			s.logger.Info("unknown op command, closing session", "command", mgmt.Command)
			return nil, false, nil
		}
	}
}

func (s *Session) replyDevlist(conn *rawlog.Conn) error {
	listings := s.devices.List()

	if err := s.conn.SetWriteDeadline(deadline(s.cfg.OpDeadline)); err != nil {
		return err
	}
	reply := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepDevlist, Status: 0}
	if _, err := conn.Write(reply.Pack()); err != nil {
		return closeErr("write devlist header", err)
	}

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(listings)))
	if _, err := conn.Write(count[:]); err != nil {
		return closeErr("write devlist count", err)
	}

	for _, l := range listings {
		if err := usbip.WriteDevlistEntry(conn, l.Info, l.Interfaces); err != nil {
			return closeErr("write devlist entry", err)
		}
	}
	return nil
}

func (s *Session) handleImport(conn *rawlog.Conn) (usb.Device, bool, error) {
	if err := s.conn.SetReadDeadline(deadline(s.cfg.OpDeadline)); err != nil {
		return nil, false, err
	}
	var busIDBuf [usbip.BusIDSize]byte
	if err := usbip.ReadExactly(conn, busIDBuf[:]); err != nil {
		return nil, false, closeErr("read import busID", err)
	}
	busID := strings.TrimRight(string(busIDBuf[:]), "\x00")

	dev, info, found := s.devices.Lookup(busID)

	if err := s.conn.SetWriteDeadline(deadline(s.cfg.OpDeadline)); err != nil {
		return nil, false, err
	}

	if !found {
		s.logger.Info("import: no such device", "busID", busID)
		reply := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: 1}
		if _, err := conn.Write(reply.Pack()); err != nil {
			return nil, false, closeErr("write import failure", err)
		}
		return nil, false, nil
	}

	reply := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: 0}
	if _, err := conn.Write(reply.Pack()); err != nil {
		return nil, false, closeErr("write import header", err)
	}
	if _, err := conn.Write(info.Pack()); err != nil {
		return nil, false, closeErr("write import device info", err)
	}
	s.logger.Info("import: attached", "busID", busID)
	return dev, true, nil
}

// attachedLoop implements the Attached state: read URB headers, dispatch,
// reply, until a framing error, an unknown command, or a closed socket.
func (s *Session) attachedLoop(conn *rawlog.Conn, dev usb.Device) error {
	for {
		if err := s.conn.SetReadDeadline(deadline(s.cfg.URBDeadline)); err != nil {
			return err
		}
		var hdr [usbip.URBHeaderSize]byte
		if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return closeErr("read urb header", err)
		}

		switch binary.BigEndian.Uint32(hdr[0:4]) {
		case usbip.CmdSubmitCode:
			if err := s.handleSubmit(conn, hdr[:], dev); err != nil {
				return err
			}
		case usbip.CmdUnlinkCode:
			if err := s.handleUnlink(conn, hdr[:]); err != nil {
				return err
			}
		default:
			s.logger.Info("unknown urb command, closing session")
			return nil
		}
	}
}

func (s *Session) handleSubmit(conn *rawlog.Conn, hdr []byte, dev usb.Device) error {
	cmd, err := usbip.UnpackCmdSubmit(hdr)
	if err != nil {
		return err
	}

	var payload []byte
	if cmd.Basic.Dir == usbip.DirOut && cmd.TransferBufferLen > 0 {
		if err := s.conn.SetReadDeadline(deadline(s.cfg.PayloadDeadline)); err != nil {
			return err
		}
		payload = make([]byte, cmd.TransferBufferLen)
		if err := usbip.ReadExactly(conn, payload); err != nil {
			return closeErr("read urb payload", err)
		}
	}

	reply := dispatch(dev, cmd, payload)

	ret := usbip.RetSubmit{
		Basic: usbip.HeaderBasic{
			Command: usbip.RetSubmitCode,
			Seqnum:  cmd.Basic.Seqnum,
			Devid:   cmd.Basic.Devid,
			Dir:     cmd.Basic.Dir,
			Ep:      cmd.Basic.Ep,
		},
		ActualLength: uint32(len(reply)),
	}

	if err := s.conn.SetWriteDeadline(deadline(s.cfg.URBDeadline)); err != nil {
		return err
	}
	if _, err := conn.Write(ret.Pack()); err != nil {
		return closeErr("write ret_submit", err)
	}
	if cmd.Basic.Dir == usbip.DirIn && len(reply) > 0 {
		if _, err := conn.Write(reply); err != nil {
			return closeErr("write ret_submit payload", err)
		}
	}
	return nil
}

func (s *Session) handleUnlink(conn *rawlog.Conn, hdr []byte) error {
	cmd, err := usbip.UnpackCmdUnlink(hdr)
	if err != nil {
		return err
	}
	ret := usbip.RetUnlink{
		Basic: usbip.HeaderBasic{
			Command: usbip.RetUnlinkCode,
			Seqnum:  cmd.Basic.Seqnum,
			Devid:   cmd.Basic.Devid,
			Dir:     cmd.Basic.Dir,
			Ep:      cmd.Basic.Ep,
		},
		Status: 0,
	}
	if err := s.conn.SetWriteDeadline(deadline(s.cfg.URBDeadline)); err != nil {
		return err
	}
	if _, err := conn.Write(ret.Pack()); err != nil {
		return closeErr("write ret_unlink", err)
	}
	return nil
}

// dispatch routes a CMD_SUBMIT to the control handler (ep 0) or the
// device's own data handler.
func dispatch(dev usb.Device, cmd usbip.CmdSubmit, payload []byte) []byte {
	if cmd.Basic.Ep == 0 {
		setup := cmd.Setup
		return usb.HandleControlRequest(dev, setup.BmRequestType(), setup.BRequest(), setup.WValue(), setup.WIndex(), setup.WLength(), payload)
	}
	return dev.HandleTransfer(cmd.Basic.Ep, cmd.Basic.Dir, payload, cmd.TransferBufferLen)
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func closeErr(op string, err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("session: %s: %w", op, err)
}
