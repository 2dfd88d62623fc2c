package testutil

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock set to start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sent is one payload recorded by a FakeHost.
type Sent struct {
	Peer     *transport.Peer
	Data     []byte
	Reliable bool
	At       time.Time
}

// FakeHost is a scripted stand-in for transport.Host. Queued events are returned by
// Service one per call; with an empty queue Service advances the clock by the full
// timeout and reports nothing.
type FakeHost struct {
	Port  uint16
	Clock *FakeClock

	// AutoConnect queues EventConnect for every Connect call.
	AutoConnect bool
	// OnSend runs after each successful Send, typically to queue a reply.
	OnSend func(h *FakeHost, s Sent)
	// ConnectErr, SendErr and ServiceErr force the matching call to fail.
	ConnectErr error
	SendErr    error
	ServiceErr error

	ConnectedTo  string
	Peer         *transport.Peer
	Sends        []Sent
	Disconnected []*transport.Peer
	Closed       bool
	Services     int

	queue []transport.Event
}

// Connect records the peer and optionally queues its EventConnect.
func (h *FakeHost) Connect(addr string) (*transport.Peer, error) {
	if h.ConnectErr != nil {
		return nil, h.ConnectErr
	}
	// Hostnames are not resolved; the peer gets an empty address.
	raddr := &net.UDPAddr{}
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		raddr = net.UDPAddrFromAddrPort(ap)
	}
	h.ConnectedTo = addr
	h.Peer = transport.NewPeer(raddr)
	if h.AutoConnect {
		h.Queue(transport.Event{Type: transport.EventConnect})
	}
	return h.Peer, nil
}

// Send records the payload.
func (h *FakeHost) Send(p *transport.Peer, data []byte, reliable bool) error {
	if h.Closed {
		return transport.ErrClosed
	}
	if h.SendErr != nil {
		return h.SendErr
	}
	if p == nil || p != h.Peer {
		return transport.ErrUnknownPeer
	}
	s := Sent{Peer: p, Data: append([]byte(nil), data...), Reliable: reliable, At: h.Clock.Now()}
	h.Sends = append(h.Sends, s)
	if h.OnSend != nil {
		h.OnSend(h, s)
	}
	return nil
}

// Service pops the next queued event.
func (h *FakeHost) Service(timeout time.Duration) (transport.Event, error) {
	h.Services++
	if h.Closed {
		return transport.Event{}, transport.ErrClosed
	}
	if h.ServiceErr != nil {
		return transport.Event{}, h.ServiceErr
	}
	if len(h.queue) == 0 {
		h.Clock.Advance(timeout)
		return transport.Event{Type: transport.EventNone}, nil
	}
	ev := h.queue[0]
	h.queue = h.queue[1:]
	if ev.Peer == nil {
		ev.Peer = h.Peer
	}
	return ev, nil
}

// Disconnect records the peer.
func (h *FakeHost) Disconnect(p *transport.Peer) error {
	h.Disconnected = append(h.Disconnected, p)
	return nil
}

// Close marks the host closed.
func (h *FakeHost) Close() error {
	h.Closed = true
	return nil
}

// Queue appends events returned by later Service calls.
func (h *FakeHost) Queue(evs ...transport.Event) {
	h.queue = append(h.queue, evs...)
}

// Receive queues an inbound payload.
func (h *FakeHost) Receive(data []byte) {
	h.Queue(transport.Event{Type: transport.EventReceive, Data: data})
}

// Pending reports how many queued events are left.
func (h *FakeHost) Pending() int {
	return len(h.queue)
}

// FakeNetwork hands out FakeHosts in creation order sharing one clock.
type FakeNetwork struct {
	Clock *FakeClock
	Hosts []*FakeHost

	// Setup configures the n-th host (0-based) as it is created.
	Setup func(n int, h *FakeHost)
	// OpenErr fails the n-th Open call when set for that index.
	OpenErr map[int]error
}

// NewFakeNetwork creates a network with a fresh clock.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{Clock: NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
}

// Open creates the next host bound to localPort.
func (n *FakeNetwork) Open(localPort uint16) (*FakeHost, error) {
	idx := len(n.Hosts)
	if err := n.OpenErr[idx]; err != nil {
		return nil, err
	}
	h := &FakeHost{Port: localPort, Clock: n.Clock}
	n.Hosts = append(n.Hosts, h)
	if n.Setup != nil {
		n.Setup(idx, h)
	}
	return h, nil
}

// Host returns the n-th created host.
func (n *FakeNetwork) Host(idx int) *FakeHost {
	if idx >= len(n.Hosts) {
		panic(fmt.Sprintf("testutil: host %d not created (have %d)", idx, len(n.Hosts)))
	}
	return n.Hosts[idx]
}
