// Package enethost runs a session over ENet, the reliable-UDP library the matchmaking
// relay and game clients speak. It needs cgo; builds without it get a host factory that
// fails with ErrUnavailable.
package enethost

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/session"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// Defaults.
const (
	// DefaultChannels is the channel count requested on connect. Everything is sent on
	// channel 0.
	DefaultChannels = 3
	// DefaultMaxPeers bounds the connections one host accepts.
	DefaultMaxPeers = 4
)

// ErrUnavailable is returned by Listen in builds without cgo.
var ErrUnavailable = errors.New("ENet support requires a cgo build (use --transport udp)")

// Config holds host configuration.
type Config struct {
	LocalPort uint16 // 0 = system-assigned, outgoing connections only
	Channels  int
	MaxPeers  int
	Logger    *log.Logger
	Tap       transport.TapFunc // optional
}

func (c *Config) setDefaults() {
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = DefaultMaxPeers
	}
}

// Hosts returns a session host factory backed by ENet.
func Hosts(logger *log.Logger, tap transport.TapFunc) session.HostFactory {
	return func(localPort uint16) (session.Host, error) {
		h, err := Listen(Config{LocalPort: localPort, Logger: logger, Tap: tap})
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// resolve turns "host:port" into an IPv4 address. ENet 1.3 has no IPv6 support.
func resolve(addr string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer address %q: %w", addr, err)
	}
	if raddr.IP == nil || raddr.IP.IsUnspecified() {
		return nil, fmt.Errorf("peer address %q has no host", addr)
	}
	return raddr, nil
}

// tapper records ENet payloads as DATA datagrams so captures of ENet runs read like
// captures of the UDP transport. Sequence numbers count per direction.
type tapper struct {
	fn    transport.TapFunc
	local *net.UDPAddr
	seq   [2]uint32
}

func (t *tapper) record(dir transport.Direction, remote *net.UDPAddr, payload []byte, reliable bool) {
	if t.fn == nil {
		return
	}
	seq := t.seq[dir]
	t.seq[dir]++
	t.fn(dir, t.local, remote, transport.FrameData(payload, reliable, seq))
}
