//go:build cgo

package enethost

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/codecat/go-enet"
	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// disconnectWait bounds how long Disconnect services the host waiting for the peer to
// confirm.
const disconnectWait = 200 * time.Millisecond

var initOnce sync.Once

type link struct {
	handle *transport.Peer
	peer   enet.Peer
}

// Host wraps one ENet host. Like transport.Host it is poll-driven: all network work
// happens inside Service, so it must only be used from one goroutine.
type Host struct {
	host     enet.Host
	channels int
	logger   *log.Entry
	tap      tapper
	links    map[string]*link
	closed   bool
}

// Listen creates an ENet host bound to cfg.LocalPort.
func Listen(cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg.setDefaults()
	initOnce.Do(func() { enet.Initialize() })

	var bind enet.Address
	if cfg.LocalPort != 0 {
		bind = enet.NewListenAddress(cfg.LocalPort)
	}
	h, err := enet.NewHost(bind, uint64(cfg.MaxPeers), uint64(cfg.Channels), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create ENet host on port %d: %w", cfg.LocalPort, err)
	}

	logger := logging.Component(cfg.Logger, "enet")
	logger.Debugf("ENet host on port %d", cfg.LocalPort)
	return &Host{
		host:     h,
		channels: cfg.Channels,
		logger:   logger,
		tap:      tapper{fn: cfg.Tap, local: &net.UDPAddr{IP: net.IPv4zero, Port: int(cfg.LocalPort)}},
		links:    make(map[string]*link),
	}, nil
}

// Connect starts an ENet connection to addr ("host:port"). Completion is reported by an
// EventConnect from Service.
func (h *Host) Connect(addr string) (*transport.Peer, error) {
	if h.closed {
		return nil, transport.ErrClosed
	}
	raddr, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	if l, ok := h.links[raddr.String()]; ok {
		return l.handle, nil
	}

	peer, err := h.host.Connect(enet.NewAddress(raddr.IP.String(), uint16(raddr.Port)), h.channels, 0)
	if err != nil {
		return nil, fmt.Errorf("ENet connect to %s: %w", raddr, err)
	}
	l := &link{handle: transport.NewPeer(raddr), peer: peer}
	h.links[raddr.String()] = l
	h.logger.Debugf("Connecting to %s", raddr)
	return l.handle, nil
}

// Send queues data on channel 0. Unreliable sends are sequenced but may be dropped.
func (h *Host) Send(p *transport.Peer, data []byte, reliable bool) error {
	if h.closed {
		return transport.ErrClosed
	}
	l, ok := h.links[p.String()]
	if !ok {
		return transport.ErrUnknownPeer
	}

	var flags enet.PacketFlags
	if reliable {
		flags = enet.PacketFlagReliable
	}
	if err := l.peer.SendBytes(data, 0, flags); err != nil {
		return fmt.Errorf("ENet send to %s: %w", p, err)
	}
	h.tap.record(transport.DirOut, p.Addr(), data, reliable)
	return nil
}

// Service waits up to timeout for the next ENet event.
func (h *Host) Service(timeout time.Duration) (transport.Event, error) {
	if h.closed {
		return transport.Event{}, transport.ErrClosed
	}

	ev := h.host.Service(uint32(timeout / time.Millisecond))
	switch ev.GetType() {
	case enet.EventConnect:
		l := h.linkFor(ev.GetPeer())
		h.logger.Debugf("Connected to %s", l.handle)
		return transport.Event{Type: transport.EventConnect, Peer: l.handle}, nil

	case enet.EventReceive:
		packet := ev.GetPacket()
		data := append([]byte(nil), packet.GetData()...)
		packet.Destroy()

		// Inbound delivery mode is not tracked; captures show it as unreliable.
		l := h.linkFor(ev.GetPeer())
		h.tap.record(transport.DirIn, l.handle.Addr(), data, false)
		return transport.Event{Type: transport.EventReceive, Peer: l.handle, Data: data}, nil

	case enet.EventDisconnect:
		l := h.linkFor(ev.GetPeer())
		delete(h.links, l.handle.String())
		h.logger.Debugf("Disconnected from %s", l.handle)
		return transport.Event{Type: transport.EventDisconnect, Peer: l.handle}, nil
	}
	return transport.Event{Type: transport.EventNone}, nil
}

// Disconnect asks the peer to close and services the host briefly so the request goes
// out before the host is destroyed.
func (h *Host) Disconnect(p *transport.Peer) error {
	if h.closed {
		return transport.ErrClosed
	}
	l, ok := h.links[p.String()]
	if !ok {
		return transport.ErrUnknownPeer
	}
	l.peer.Disconnect(0)

	deadline := time.Now().Add(disconnectWait)
	for time.Now().Before(deadline) {
		ev := h.host.Service(uint32(disconnectWait / 10 / time.Millisecond))
		switch ev.GetType() {
		case enet.EventReceive:
			ev.GetPacket().Destroy()
		case enet.EventDisconnect:
			if addrKey(ev.GetPeer()) == p.String() {
				delete(h.links, p.String())
				return nil
			}
		}
	}
	delete(h.links, p.String())
	return nil
}

// Close destroys the ENet host. Peers still connected are reset.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.host.Destroy()
	return nil
}

// linkFor returns the link for an ENet peer, adopting peers that connected to us.
func (h *Host) linkFor(peer enet.Peer) *link {
	key := addrKey(peer)
	if l, ok := h.links[key]; ok {
		l.peer = peer
		return l
	}
	raddr, err := net.ResolveUDPAddr("udp4", key)
	if err != nil {
		raddr = &net.UDPAddr{}
	}
	l := &link{handle: transport.NewPeer(raddr), peer: peer}
	h.links[key] = l
	return l
}

func addrKey(peer enet.Peer) string {
	addr := peer.GetAddress()
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(addr.GetPort())))
}
