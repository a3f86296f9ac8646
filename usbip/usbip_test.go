package usbip

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMgmtHeaderRoundTrip(t *testing.T) {
	h := MgmtHeader{Version: Version, Command: OpRepDevlist, Status: 0}
	got, err := UnpackMgmtHeader(h.Pack())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestMgmtHeaderWireBytes(t *testing.T) {
	// E1: version 0x0111 encodes as 01 11 on the wire.
	h := MgmtHeader{Version: Version, Command: OpRepDevlist, Status: 0}
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00}, h.Pack())
}

func TestMgmtHeaderRejectsWrongLength(t *testing.T) {
	_, err := UnpackMgmtHeader([]byte{0x01, 0x11, 0x00})
	require.Error(t, err)
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	var d DeviceInfo
	d.SetPath("/sys/devices/pci0000:00/0000:00:01.2/usb1/1-1")
	d.SetBusID("1-1")
	d.Busnum = 1
	d.Devnum = 2
	d.Speed = 2
	d.IDVendor = 0x1234
	d.IDProduct = 0x5678
	d.BNumInterfaces = 1

	got, err := UnpackDeviceInfo(d.Pack())
	require.NoError(t, err)
	require.Equal(t, d, got)
	require.Equal(t, "1-1", got.BusIDString())
	require.Len(t, d.Pack(), DeviceInfoSize)
}

func TestDeviceInfoBusIDPadding(t *testing.T) {
	// E1/E2: busID "1-1" NUL-padded to 32 bytes, starting 31 2d 31 00...
	var d DeviceInfo
	d.SetBusID("1-1")
	want := append([]byte{0x31, 0x2d, 0x31}, bytes.Repeat([]byte{0}, 29)...)
	require.Equal(t, want, d.BusID[:])
}

func TestDeviceInfoRejectsWrongLength(t *testing.T) {
	_, err := UnpackDeviceInfo(make([]byte, 10))
	require.Error(t, err)
}

func TestInterfaceInfoRoundTrip(t *testing.T) {
	i := InterfaceInfo{Class: 0x07, SubClass: 0x01, Protocol: 0x02}
	got, err := UnpackInterfaceInfo(i.Pack())
	require.NoError(t, err)
	require.Equal(t, i, got)
	require.Equal(t, uint8(0), i.Pack()[3], "pad byte must be zero")
}

func TestWriteDevlistEntry(t *testing.T) {
	var d DeviceInfo
	d.SetBusID("1-1")
	d.BNumInterfaces = 2
	ifaces := []InterfaceInfo{{Class: 0x07, SubClass: 0x01, Protocol: 0x02}, {Class: 0x03}}

	var buf bytes.Buffer
	require.NoError(t, WriteDevlistEntry(&buf, d, ifaces))
	require.Len(t, buf.Bytes(), DeviceInfoSize+2*InterfaceSize)
}

func TestCmdSubmitRoundTrip(t *testing.T) {
	c := CmdSubmit{
		Basic:             HeaderBasic{Command: CmdSubmitCode, Seqnum: 42, Devid: 1, Dir: DirIn, Ep: 0},
		TransferFlags:     0,
		TransferBufferLen: 18,
		Setup:             NewSetup(0x80, 0x06, 0x0100, 0, 0x0012),
	}
	buf := c.Pack()
	require.Len(t, buf, URBHeaderSize)

	got, err := UnpackCmdSubmit(buf)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestCmdSubmitRejectsWrongLength(t *testing.T) {
	_, err := UnpackCmdSubmit(make([]byte, 47))
	require.Error(t, err)
}

func TestRetSubmitRoundTrip(t *testing.T) {
	r := RetSubmit{
		Basic:           HeaderBasic{Command: RetSubmitCode, Seqnum: 42, Devid: 1, Dir: DirIn, Ep: 0},
		Status:          0,
		ActualLength:    18,
		NumberOfPackets: 0,
	}
	got, err := UnpackRetSubmit(r.Pack())
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestRetSubmitNumberOfPacketsAlwaysZeroOnTheWire(t *testing.T) {
	// Open question resolved in SPEC_FULL.md: 0, not the original's 0xFFFFFFFF.
	r := RetSubmit{NumberOfPackets: 0}
	buf := r.Pack()
	require.Equal(t, []byte{0, 0, 0, 0}, buf[32:36])
}

func TestCmdUnlinkRoundTrip(t *testing.T) {
	c := CmdUnlink{Basic: HeaderBasic{Command: CmdUnlinkCode, Seqnum: 9, Devid: 1}, UnlinkSeqnum: 5}
	got, err := UnpackCmdUnlink(c.Pack())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestRetUnlinkRoundTrip(t *testing.T) {
	r := RetUnlink{Basic: HeaderBasic{Command: RetUnlinkCode, Seqnum: 9, Devid: 1}, Status: 0}
	got, err := UnpackRetUnlink(r.Pack())
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestReadExactlyLoopsOverShortReads(t *testing.T) {
	src := &chunkedReader{chunks: [][]byte{{1, 2}, {3}, {4, 5}}}
	buf := make([]byte, 5)
	require.NoError(t, ReadExactly(src, buf))
	require.Equal(t, []byte{1, 2, 3, 4, 5}, buf)
}

func TestReadExactlyCleanEOF(t *testing.T) {
	src := &chunkedReader{}
	require.ErrorIs(t, ReadExactly(src, make([]byte, 4)), io.EOF)
}

func TestReadExactlyUnexpectedEOF(t *testing.T) {
	src := &chunkedReader{chunks: [][]byte{{1, 2}}}
	require.ErrorIs(t, ReadExactly(src, make([]byte, 4)), io.ErrUnexpectedEOF)
}

// chunkedReader feeds byte slices one Read call at a time, like a socket
// delivering a message in several TCP segments.
type chunkedReader struct {
	chunks [][]byte
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}
