package enethost

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipfuzz/slipfuzz/internal/session"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

var _ session.Host = (*Host)(nil)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, DefaultChannels, cfg.Channels)
	assert.Equal(t, DefaultMaxPeers, cfg.MaxPeers)

	cfg = Config{Channels: 1, MaxPeers: 2}
	cfg.setDefaults()
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, 2, cfg.MaxPeers)
}

func TestResolve(t *testing.T) {
	addr, err := resolve("127.0.0.1:43113")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:43113", addr.String())

	_, err = resolve(":43113")
	assert.Error(t, err, "no host")

	_, err = resolve("[::1]:43113")
	assert.Error(t, err, "ENet peers are IPv4 only")

	_, err = resolve("127.0.0.1")
	assert.Error(t, err)
}

func TestTapper_FramesPayloads(t *testing.T) {
	type tapped struct {
		dir      transport.Direction
		datagram []byte
	}
	var got []tapped
	tp := tapper{
		fn: func(dir transport.Direction, local, remote *net.UDPAddr, datagram []byte) {
			got = append(got, tapped{dir, datagram})
		},
		local: &net.UDPAddr{IP: net.IPv4zero, Port: 1000},
	}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}

	tp.record(transport.DirOut, remote, []byte{0x84, 1}, true)
	tp.record(transport.DirOut, remote, []byte{0x80}, false)
	tp.record(transport.DirIn, remote, []byte{0x81}, false)

	require.Len(t, got, 3)
	var seqs []uint32
	for _, g := range got {
		d, err := transport.ParseDatagram(g.datagram)
		require.NoError(t, err)
		assert.Equal(t, "DATA", d.Kind)
		seqs = append(seqs, d.Seq)
	}
	assert.Equal(t, []uint32{0, 1, 0}, seqs, "sequence numbers count per direction")
	assert.Equal(t, transport.DirIn, got[2].dir)

	first, err := transport.ParseDatagram(got[0].datagram)
	require.NoError(t, err)
	assert.True(t, first.Reliable)
	assert.Equal(t, []byte{0x84, 1}, first.Payload)
}

func TestTapper_Disabled(t *testing.T) {
	var tp tapper
	assert.NotPanics(t, func() {
		tp.record(transport.DirOut, &net.UDPAddr{}, []byte{0x84}, true)
	})
}
