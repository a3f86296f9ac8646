// Package usb hosts the USB/IP listener: the TCP accept loop that hands
// each connection to internal/session for the OP/URB protocol itself.
package usb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"

	"github.com/mdimado/py-virtualippusb/internal/rawlog"
	"github.com/mdimado/py-virtualippusb/internal/session"
	"github.com/mdimado/py-virtualippusb/usb"
	"github.com/mdimado/py-virtualippusb/usbip"
	"github.com/mdimado/py-virtualippusb/virtualbus"
)

// Server accepts USB/IP client connections and runs each to completion on
// its own goroutine. The exported-device set is fixed at construction time:
// busses are added before ListenAndServe is called and never change after.
type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger rawlog.Logger
	sessCfg   session.Config

	busesMu sync.Mutex
	busses  map[uint32]*virtualbus.VirtualBus

	ready     chan struct{}
	readyOnce sync.Once
	ln        net.Listener
}

func New(config ServerConfig, logger *slog.Logger, rawLogger rawlog.Logger) *Server {
	if rawLogger == nil {
		rawLogger = rawlog.Noop()
	}
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		sessCfg:   sessionConfig(config),
		busses:    make(map[uint32]*virtualbus.VirtualBus),
		ready:     make(chan struct{}),
	}
}

// sessionConfig derives the per-session deadlines from config, falling back
// to session.DefaultConfig's values for any deadline left at its zero value
// (kong always fills these from its declared defaults, but a Server built
// directly in tests may leave them unset).
func sessionConfig(config ServerConfig) session.Config {
	cfg := session.DefaultConfig()
	if config.OpDeadline > 0 {
		cfg.OpDeadline = config.OpDeadline
	}
	if config.URBDeadline > 0 {
		cfg.URBDeadline = config.URBDeadline
	}
	if config.PayloadDeadline > 0 {
		cfg.PayloadDeadline = config.PayloadDeadline
	}
	return cfg
}

// AddBus registers a bus with the server. If the bus number is already
// present, an error is returned.
func (s *Server) AddBus(bus *virtualbus.VirtualBus) error {
	s.busesMu.Lock()
	defer s.busesMu.Unlock()
	if bus == nil {
		return fmt.Errorf("bus is nil")
	}
	if _, ok := s.busses[bus.BusNum()]; ok {
		return fmt.Errorf("bus %d already registered", bus.BusNum())
	}
	s.busses[bus.BusNum()] = bus
	return nil
}

func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	if s.config != nil {
		return s.config.Addr
	}
	return ""
}

// Ready returns a channel that is closed once the server has successfully
// bound to its listen address and is ready to accept connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Close stops the server by closing its listener.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// GetListenPort extracts the bound port number from the server's listen address.
func (s *Server) GetListenPort() uint16 {
	_, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// ListenAndServe binds the configured address and serves connections until
// the listener is closed. The kernel's default accept backlog comfortably
// exceeds the minimum of 5 this protocol requires.
func (s *Server) ListenAndServe() error {
	ln, err := listenConfig.Listen(context.Background(), "tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.config.Addr = ln.Addr().String()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("usbip server listening", "addr", s.config.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("usbip server stopped")
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetNoDelay(true); err != nil {
				s.logger.Warn("failed to set TCP_NODELAY", "error", err)
			}
		}
		s.logger.Info("client connected", "remote", conn.RemoteAddr())
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	sess := session.New(conn, s, s.logger, s.rawLogger, s.sessCfg)
	if err := sess.Run(); err != nil {
		s.logger.Error("session ended with error", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	s.logger.Info("client disconnected", "remote", conn.RemoteAddr())
}

// List implements session.DeviceSource across every registered bus.
func (s *Server) List() []virtualbus.DeviceListing {
	s.busesMu.Lock()
	defer s.busesMu.Unlock()
	var out []virtualbus.DeviceListing
	for _, b := range s.busses {
		out = append(out, b.List()...)
	}
	return out
}

// Lookup implements session.DeviceSource across every registered bus.
func (s *Server) Lookup(busID string) (usb.Device, usbip.DeviceInfo, bool) {
	s.busesMu.Lock()
	defer s.busesMu.Unlock()
	for _, b := range s.busses {
		if dev, info, ok := b.Lookup(busID); ok {
			return dev, info, true
		}
	}
	return nil, usbip.DeviceInfo{}, false
}
