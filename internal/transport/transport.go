// Package transport provides a poll-driven datagram host with connection handling.
//
// A Host owns one UDP socket. All work happens inside Service: reading datagrams,
// answering handshakes, retransmitting reliable payloads, keepalives and timeouts.
// Nothing runs in the background, so a Host must only be used from one goroutine.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/logging"
)

// Configuration defaults.
const (
	// DefaultReadBuffer is the default UDP read buffer size.
	DefaultReadBuffer = 65536
	// HandshakeTimeout bounds how long a CONNECT is retried without an answer.
	HandshakeTimeout = 10 * time.Second
	// PeerTimeout disconnects a peer that has been silent this long.
	PeerTimeout = 10 * time.Second
	// KeepaliveInterval is how long a link may stay idle before a PING is sent.
	KeepaliveInterval = 1 * time.Second
	// ResendInterval is the retransmission interval for CONNECT and reliable payloads.
	ResendInterval = 200 * time.Millisecond
	// MaxResends is how often a reliable payload is retransmitted before it is dropped.
	MaxResends = 5
	// pollSlice caps one blocking read so timers are serviced while waiting.
	pollSlice = 50 * time.Millisecond
	// seenWindow is how many reliable sequence numbers are remembered for duplicate suppression.
	seenWindow = 1024
)

// Errors returned by transport operations.
var (
	ErrNotConnected = errors.New("peer not connected")
	ErrClosed       = errors.New("transport closed")
	ErrUnknownPeer  = errors.New("unknown peer")
)

// EventType is the kind of event returned by Service.
type EventType int

const (
	EventNone EventType = iota
	EventConnect
	EventReceive
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "NONE"
	case EventConnect:
		return "CONNECT"
	case EventReceive:
		return "RECEIVE"
	case EventDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Event is the result of one Service call.
type Event struct {
	Type EventType
	Peer *Peer
	Data []byte // EventReceive only
}

// Direction of a tapped datagram.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirOut {
		return "out"
	}
	return "in"
}

// TapFunc observes every datagram sent or received, header included.
type TapFunc func(dir Direction, local, remote *net.UDPAddr, datagram []byte)

type peerState int

const (
	stateConnecting peerState = iota
	stateConnected
)

type pendingPacket struct {
	datagram []byte
	sentAt   time.Time
	resends  int
}

// Peer is a connection handle.
type Peer struct {
	addr  *net.UDPAddr
	state peerState

	connectStarted time.Time
	connectSent    time.Time
	lastRecv       time.Time
	lastSend       time.Time

	nextSeq   uint32
	pending   map[uint32]*pendingPacket
	seen      map[uint32]struct{}
	seenOrder []uint32
}

// NewPeer creates a handle for addr. Hosts create peers themselves; this exists for
// callers that fake a Host.
func NewPeer(addr *net.UDPAddr) *Peer {
	return &Peer{
		addr:    addr,
		pending: make(map[uint32]*pendingPacket),
		seen:    make(map[uint32]struct{}),
	}
}

// Addr returns the peer's address.
func (p *Peer) Addr() *net.UDPAddr {
	return p.addr
}

func (p *Peer) String() string {
	if p == nil || p.addr == nil {
		return "<nil>"
	}
	return p.addr.String()
}

// markSeen records a reliable sequence number and reports whether it was new.
func (p *Peer) markSeen(seq uint32) bool {
	if _, dup := p.seen[seq]; dup {
		return false
	}
	p.seen[seq] = struct{}{}
	p.seenOrder = append(p.seenOrder, seq)
	if len(p.seenOrder) > seenWindow {
		delete(p.seen, p.seenOrder[0])
		p.seenOrder = p.seenOrder[1:]
	}
	return true
}

// Config holds host configuration.
type Config struct {
	LocalPort uint16 // 0 = system-assigned
	Logger    *log.Logger
	Tap       TapFunc // optional
}

// Host manages one UDP socket and its peers.
type Host struct {
	conn   *net.UDPConn
	logger *log.Entry
	tap    TapFunc
	now    func() time.Time

	peers  map[string]*Peer
	queue  []Event
	closed bool

	readBuf []byte
}

// Listen binds a host to the configured local port.
func Listen(cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	addr := &net.UDPAddr{Port: int(cfg.LocalPort)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind to port %d: %w", cfg.LocalPort, err)
	}

	h := &Host{
		conn:    conn,
		logger:  logging.Component(cfg.Logger, "transport"),
		tap:     cfg.Tap,
		now:     time.Now,
		peers:   make(map[string]*Peer),
		readBuf: make([]byte, DefaultReadBuffer),
	}

	if err := conn.SetReadBuffer(DefaultReadBuffer); err != nil {
		h.logger.WithError(err).Warn("Failed to set read buffer size")
	}

	h.logger.Debugf("Bound UDP %s", conn.LocalAddr())
	return h, nil
}

// LocalAddr returns the bound address.
func (h *Host) LocalAddr() *net.UDPAddr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// Connect starts a handshake with addr ("host:port"). Completion is reported by an
// EventConnect from Service; failure by an EventDisconnect.
func (h *Host) Connect(addr string) (*Peer, error) {
	if h.closed {
		return nil, ErrClosed
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer address %q: %w", addr, err)
	}

	key := raddr.String()
	if p, ok := h.peers[key]; ok {
		return p, nil
	}

	now := h.now()
	p := NewPeer(raddr)
	p.state = stateConnecting
	p.connectStarted = now
	h.peers[key] = p

	h.logger.Debugf("Sending CONNECT to %s", raddr)
	if err := h.write(p, header{kind: kindConnect}, nil); err != nil {
		delete(h.peers, key)
		return nil, fmt.Errorf("failed to send CONNECT: %w", err)
	}
	p.connectSent = now
	return p, nil
}

// Send transmits a payload to a connected peer. Reliable payloads are retransmitted
// until acknowledged or MaxResends is exhausted; others are sent once.
func (h *Host) Send(p *Peer, data []byte, reliable bool) error {
	if h.closed {
		return ErrClosed
	}
	if p == nil || h.peers[p.addr.String()] != p {
		return ErrUnknownPeer
	}
	if p.state != stateConnected {
		return ErrNotConnected
	}

	hdr := header{kind: kindData}
	if reliable {
		hdr.flags = flagReliable
		hdr.seq = p.nextSeq
		p.nextSeq++
	}

	datagram := encodeDatagram(hdr, data)
	if err := h.writeRaw(p, datagram); err != nil {
		return err
	}
	if reliable {
		p.pending[hdr.seq] = &pendingPacket{datagram: datagram, sentAt: h.now()}
	}
	return nil
}

// Service waits up to timeout for the next event. It returns EventNone when nothing
// happened before the timeout elapsed.
func (h *Host) Service(timeout time.Duration) (Event, error) {
	if h.closed {
		return Event{}, ErrClosed
	}

	deadline := h.now().Add(timeout)
	for {
		now := h.now()
		h.maintain(now)
		if ev, ok := h.pop(); ok {
			return ev, nil
		}

		wait := deadline.Sub(now)
		if wait <= 0 {
			return Event{Type: EventNone}, nil
		}
		if wait > pollSlice {
			wait = pollSlice
		}

		if err := h.conn.SetReadDeadline(now.Add(wait)); err != nil {
			return Event{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, addr, err := h.conn.ReadFromUDP(h.readBuf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if h.closed {
				return Event{}, ErrClosed
			}
			// ICMP unreachable and similar are reported as read errors on some platforms.
			h.logger.WithError(err).Debug("Read error")
			continue
		}

		h.handleDatagram(addr, h.readBuf[:n])
		if ev, ok := h.pop(); ok {
			return ev, nil
		}
	}
}

// Disconnect sends DISCONNECT to the peer and forgets it. No event is generated.
func (h *Host) Disconnect(p *Peer) error {
	if h.closed {
		return ErrClosed
	}
	if p == nil || h.peers[p.addr.String()] != p {
		return ErrUnknownPeer
	}
	delete(h.peers, p.addr.String())
	return h.write(p, header{kind: kindDisconnect}, nil)
}

// Close disconnects every peer and closes the socket.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	for _, p := range h.sortedPeers() {
		_ = h.write(p, header{kind: kindDisconnect}, nil)
	}
	h.peers = make(map[string]*Peer)
	h.closed = true
	return h.conn.Close()
}

func (h *Host) pop() (Event, bool) {
	if len(h.queue) == 0 {
		return Event{}, false
	}
	ev := h.queue[0]
	h.queue = h.queue[1:]
	return ev, true
}

func (h *Host) push(ev Event) {
	h.queue = append(h.queue, ev)
}

func (h *Host) handleDatagram(addr *net.UDPAddr, b []byte) {
	if h.tap != nil {
		h.tap(DirIn, h.LocalAddr(), addr, b)
	}

	hdr, payload, err := decodeDatagram(b)
	if err != nil {
		h.logger.WithField("peer", addr).Debugf("Dropping datagram: %v", err)
		return
	}

	now := h.now()
	key := addr.String()
	p := h.peers[key]
	if p != nil {
		p.lastRecv = now
	}

	switch hdr.kind {
	case kindConnect:
		if p == nil {
			p = NewPeer(addr)
			p.lastRecv = now
			h.peers[key] = p
		}
		_ = h.write(p, header{kind: kindConnectAck}, nil)
		h.establish(p, now)

	case kindConnectAck:
		if p == nil {
			h.logger.WithField("peer", addr).Debug("CONNECT_ACK from unknown source")
			return
		}
		h.establish(p, now)

	case kindData:
		if p == nil {
			h.logger.WithField("peer", addr).Debug("DATA from unknown source")
			return
		}
		// Data before our CONNECT_ACK arrived: the peer already considers us connected.
		h.establish(p, now)
		if hdr.reliable() {
			_ = h.write(p, header{kind: kindAck, seq: hdr.seq}, nil)
			if !p.markSeen(hdr.seq) {
				return
			}
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		h.push(Event{Type: EventReceive, Peer: p, Data: data})

	case kindAck:
		if p != nil {
			delete(p.pending, hdr.seq)
		}

	case kindPing:
		if p != nil {
			_ = h.write(p, header{kind: kindPong, seq: hdr.seq}, nil)
		}

	case kindPong:
		// lastRecv already refreshed

	case kindDisconnect:
		if p == nil {
			return
		}
		delete(h.peers, key)
		h.logger.WithField("peer", addr).Debug("Peer sent DISCONNECT")
		h.push(Event{Type: EventDisconnect, Peer: p})

	default:
		h.logger.WithField("peer", addr).Debugf("Dropping %s", kindName(hdr.kind))
	}
}

func (h *Host) establish(p *Peer, now time.Time) {
	if p.state == stateConnected {
		return
	}
	p.state = stateConnected
	p.lastRecv = now
	h.logger.WithField("peer", p.addr).Debug("Peer connected")
	h.push(Event{Type: EventConnect, Peer: p})
}

// maintain runs the timers of every peer.
func (h *Host) maintain(now time.Time) {
	for _, p := range h.sortedPeers() {
		key := p.addr.String()
		switch p.state {
		case stateConnecting:
			if now.Sub(p.connectStarted) > HandshakeTimeout {
				delete(h.peers, key)
				h.logger.WithField("peer", p.addr).Debugf("Handshake timeout after %v", HandshakeTimeout)
				h.push(Event{Type: EventDisconnect, Peer: p})
				continue
			}
			if now.Sub(p.connectSent) >= ResendInterval {
				_ = h.write(p, header{kind: kindConnect}, nil)
				p.connectSent = now
			}

		case stateConnected:
			if now.Sub(p.lastRecv) > PeerTimeout {
				delete(h.peers, key)
				h.logger.WithField("peer", p.addr).Debugf("Peer silent for %v", PeerTimeout)
				h.push(Event{Type: EventDisconnect, Peer: p})
				continue
			}
			h.retransmit(p, now)
			if now.Sub(p.lastSend) >= KeepaliveInterval {
				_ = h.write(p, header{kind: kindPing}, nil)
			}
		}
	}
}

func (h *Host) retransmit(p *Peer, now time.Time) {
	seqs := make([]uint32, 0, len(p.pending))
	for seq := range p.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		pkt := p.pending[seq]
		if now.Sub(pkt.sentAt) < ResendInterval {
			continue
		}
		if pkt.resends >= MaxResends {
			delete(p.pending, seq)
			h.logger.WithField("peer", p.addr).Debugf("Giving up on reliable seq %d", seq)
			continue
		}
		pkt.resends++
		pkt.sentAt = now
		_ = h.writeRaw(p, pkt.datagram)
	}
}

func (h *Host) sortedPeers() []*Peer {
	keys := make([]string, 0, len(h.peers))
	for k := range h.peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Peer, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.peers[k])
	}
	return out
}

func (h *Host) write(p *Peer, hdr header, payload []byte) error {
	return h.writeRaw(p, encodeDatagram(hdr, payload))
}

func (h *Host) writeRaw(p *Peer, datagram []byte) error {
	if _, err := h.conn.WriteToUDP(datagram, p.addr); err != nil {
		return err
	}
	p.lastSend = h.now()
	if h.tap != nil {
		h.tap(DirOut, h.LocalAddr(), p.addr, datagram)
	}
	return nil
}
