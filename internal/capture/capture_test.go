package capture

import (
	"bytes"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

var (
	local  = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1000}
	remote = &net.UDPAddr{IP: net.IPv4(5, 6, 7, 8), Port: 2000}
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, logging.Discard())
	require.NoError(t, err)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return ts }

	r.Tap(transport.DirOut, local, remote, []byte{0x00, 0x00, 0, 0, 0, 0, 0x84, 1, 2, 3, 4, 5})
	r.Tap(transport.DirIn, local, remote, []byte{0x01, 0x00, 0, 0, 0, 0})
	assert.Equal(t, uint64(2), r.Packets())
	require.NoError(t, r.Close())

	pkts, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2)

	out := pkts[0]
	assert.Equal(t, "10.0.0.1:1000", out.Src.String())
	assert.Equal(t, "5.6.7.8:2000", out.Dst.String())
	assert.Equal(t, []byte{0x00, 0x00, 0, 0, 0, 0, 0x84, 1, 2, 3, 4, 5}, out.Payload)
	assert.True(t, ts.Equal(out.Timestamp))

	in := pkts[1]
	assert.Equal(t, "5.6.7.8:2000", in.Src.String())
	assert.Equal(t, "10.0.0.1:1000", in.Dst.String())
}

func TestRecorder_DualStackLocal(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, logging.Discard())
	require.NoError(t, err)

	r.Tap(transport.DirOut, &net.UDPAddr{IP: net.IPv6unspecified, Port: 1000}, remote, []byte{0x03, 0, 0, 0, 0, 0})
	r.Tap(transport.DirOut, &net.UDPAddr{IP: net.IPv6loopback, Port: 1000}, &net.UDPAddr{IP: net.IPv6loopback, Port: 2000}, []byte{0x03, 0, 0, 0, 0, 0})

	pkts, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, "0.0.0.0:1000", pkts[0].Src.String())
	assert.Equal(t, "[::1]:2000", pkts[1].Dst.String())
}

func TestRecorder_MissingAddressIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, logging.Discard())
	require.NoError(t, err)

	r.Tap(transport.DirOut, nil, remote, []byte{0})
	assert.Zero(t, r.Packets())
}

func TestRecorder_ClosedDropsPackets(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	r.Tap(transport.DirOut, local, remote, []byte{0})
	assert.Zero(t, r.Packets())
}

func TestCreateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	r, err := Create(path, logging.Discard())
	require.NoError(t, err)
	r.Tap(transport.DirOut, local, remote, []byte{0x05, 0, 0, 0, 0, 0})
	require.NoError(t, r.Close())

	pkts, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, pkts, 1)

	d, err := transport.ParseDatagram(pkts[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "DISCONNECT", d.Kind)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	_, err = Create(filepath.Join(t.TempDir(), "no", "such", "dir.pcap"), logging.Discard())
	assert.Error(t, err)
}

func TestRead_NotPcap(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a capture file at all")))
	assert.Error(t, err)
}

func TestRecorder_WithHost(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, logging.Discard())
	require.NoError(t, err)

	a, err := transport.Listen(transport.Config{Logger: logging.Discard(), Tap: r.Tap})
	require.NoError(t, err)
	defer a.Close()
	b, err := transport.Listen(transport.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Connect(net.JoinHostPort("127.0.0.1", strconv.Itoa(b.LocalAddr().Port)))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for r.Packets() < 2 && time.Now().Before(deadline) {
		_, _ = b.Service(5 * time.Millisecond)
		_, _ = a.Service(5 * time.Millisecond)
	}

	pkts, err := Read(&buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(pkts), 2)
	d, err := transport.ParseDatagram(pkts[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", d.Kind)
}
