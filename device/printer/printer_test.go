package printer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backendURL string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IPPServerURL = backendURL
	cfg.VendorID = 0xABCD
	cfg.ProductID = 0x0001
	cfg.Manufacturer = "Acme"
	cfg.Product = "LaserJet Virtual"
	cfg.Serial = "SN1"
	return cfg
}

func TestNewBuildsPrinterClassDescriptor(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	desc := p.GetDescriptor()
	require.Equal(t, uint8(0x07), desc.Device.BDeviceClass)
	require.Equal(t, uint8(0x01), desc.Device.BDeviceSubClass)
	require.Equal(t, uint8(0x02), desc.Device.BDeviceProtocol)
	require.Len(t, desc.Configuration.Interfaces, 1)
	require.Len(t, desc.Configuration.Interfaces[0].Endpoints, 2)
	require.Equal(t, "Acme", desc.Strings[1])
}

func TestNewRejectsUnparsableURL(t *testing.T) {
	_, err := New(testConfig(t, "://not a url"))
	require.Error(t, err)
}

func TestHandleControlGetDeviceID(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	reply, ok := p.HandleControl(0xA1, reqGetDeviceID, 0, 0, 256, nil)
	require.True(t, ok)
	require.Contains(t, string(reply[2:]), "MFG:Acme;")
	require.Contains(t, string(reply[2:]), "MDL:LaserJet Virtual;")
}

func TestHandleControlGetPortStatus(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	reply, ok := p.HandleControl(0xA1, reqGetPortStatus, 0, 0, 1, nil)
	require.True(t, ok)
	require.Equal(t, []byte{0x18}, reply)
}

func TestHandleControlSoftReset(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	reply, ok := p.HandleControl(0x21, 0x02, 0, 0, 0, nil)
	require.True(t, ok)
	require.Empty(t, reply)
}

func TestHandleControlUnknownFallsThrough(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	_, ok := p.HandleControl(0x40, 0x99, 0, 0, 0, nil)
	require.False(t, ok)
}

// echoBackend starts a TCP listener that echoes whatever it receives back
// to the caller, standing in for an IPP server during bulk transfer tests.
func echoBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return "http://" + ln.Addr().String() + "/ipp/print"
}

func TestBulkOutForwardsToBackendAndBulkInReadsResponse(t *testing.T) {
	backendURL := echoBackend(t)
	p, err := New(testConfig(t, backendURL))
	require.NoError(t, err)

	reply := p.HandleTransfer(epBulkOut, 0, []byte("POST /ipp/print HTTP/1.1\r\n\r\n"), 0)
	require.Nil(t, reply)

	require.Eventually(t, func() bool {
		p.backendMu.Lock()
		defer p.backendMu.Unlock()
		return len(p.pending) > 0
	}, time.Second, 10*time.Millisecond)

	in := p.HandleTransfer(epBulkIn, 1, nil, 8)
	require.Len(t, in, 8)
}

func TestBulkInWithNoBackendReturnsEmpty(t *testing.T) {
	p, err := New(testConfig(t, "http://127.0.0.1:1/ipp/print"))
	require.NoError(t, err)

	reply := p.HandleTransfer(epBulkIn, 1, nil, 64)
	require.Empty(t, reply)
}

func TestUnknownEndpointReturnsNil(t *testing.T) {
	p, err := New(testConfig(t, "http://localhost:631/ipp/print"))
	require.NoError(t, err)

	require.Nil(t, p.HandleTransfer(5, 1, nil, 0))
}
