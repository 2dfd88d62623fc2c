package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/protocol"
	"github.com/slipfuzz/slipfuzz/internal/relay"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

const serviceSlice = 2 * time.Millisecond

// SimConfig configures the relay and opponent simulator.
type SimConfig struct {
	RelayPort    uint16 // 0 picks a free port
	OpponentPort uint16 // 0 picks a free port
	FuzzerPort   uint16 // port the ticket tells the fuzzer to bind; 0 picks a free port

	OpponentUID string
	MatchDelay  time.Duration // between create-ticket-resp and get-ticket-resp
	Reject      string        // non-empty answers the ticket with this error
	EnterGame   time.Duration // after connect, before the first opponent InputFrame
	FrameEvery  time.Duration
	MaxFrames   int // opponent frames to send, 0 is unlimited
	Seed        int64
	PadArity    int
	Latency     *Latency
	Logger      *log.Logger
}

// SimStats is what the opponent observed.
type SimStats struct {
	TicketRequests int
	LastRequest    *relay.TicketRequest
	Connected      bool
	Disconnected   bool

	Received      map[string]uint64 // by message kind
	DecodeErrors  map[string]uint64 // by reason
	RejectedChats uint64            // chat codes a game client would drop
	FramesSent    uint64
	AcksReceived  uint64
	BadAcks       uint64 // acks for frames the opponent never sent
	HighestAck    int32
	AcksSent      uint64
	FuzzerFrames  uint64
	LastFuzzFrame int32
}

// Sim plays the matchmaking relay and the matched opponent on two local hosts.
type Sim struct {
	cfg    SimConfig
	logger *log.Entry
	codec  *protocol.Codec
	gen    *fuzz.Generator

	relay    *transport.Host
	opponent *transport.Host

	mu    sync.Mutex
	stats SimStats

	fuzzer      *transport.Peer
	connectedAt time.Time
	nextFrame   int32
	lastFrameAt time.Time
	delayed     []delayedAck
}

type delayedAck struct {
	due   time.Time
	frame int32
}

// NewSim binds both hosts.
func NewSim(cfg SimConfig) (*Sim, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.OpponentUID == "" {
		cfg.OpponentUID = "peer-sim"
	}
	if cfg.FrameEvery <= 0 {
		cfg.FrameEvery = 16 * time.Millisecond
	}
	if cfg.PadArity <= 0 {
		cfg.PadArity = protocol.DefaultPadArity
	}
	if cfg.Latency == nil {
		cfg.Latency = NewLatency(0, 0, 0, cfg.Seed)
	}
	if cfg.FuzzerPort == 0 {
		port, err := freePort()
		if err != nil {
			return nil, err
		}
		cfg.FuzzerPort = port
	}

	relayHost, err := transport.Listen(transport.Config{LocalPort: cfg.RelayPort, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("relay host: %w", err)
	}
	opponentHost, err := transport.Listen(transport.Config{LocalPort: cfg.OpponentPort, Logger: cfg.Logger})
	if err != nil {
		relayHost.Close()
		return nil, fmt.Errorf("opponent host: %w", err)
	}

	opts := fuzz.DefaultOptions()
	opts.PadArity = cfg.PadArity
	opts.PlayerIndex = 1
	return &Sim{
		cfg:       cfg,
		logger:    logging.Component(cfg.Logger, "peer-sim"),
		codec:     protocol.NewCodec(cfg.PadArity),
		gen:       fuzz.New(cfg.Seed, opts),
		relay:     relayHost,
		opponent:  opponentHost,
		nextFrame: fuzz.DefaultFirstFrame,
		stats: SimStats{
			Received:     make(map[string]uint64),
			DecodeErrors: make(map[string]uint64),
		},
	}, nil
}

// RelayAddr is the address to give the fuzzer as its relay.
func (s *Sim) RelayAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.relay.LocalAddr().Port))
}

// OpponentAddr is the opponent address written into tickets.
func (s *Sim) OpponentAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.opponent.LocalAddr().Port))
}

// Stats returns a copy of the counters.
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Received = make(map[string]uint64, len(s.stats.Received))
	for k, v := range s.stats.Received {
		st.Received[k] = v
	}
	st.DecodeErrors = make(map[string]uint64, len(s.stats.DecodeErrors))
	for k, v := range s.stats.DecodeErrors {
		st.DecodeErrors[k] = v
	}
	return st
}

// Run services both hosts until ctx is done or the fuzzer disconnects.
func (s *Sim) Run(ctx context.Context) error {
	defer s.relay.Close()
	defer s.opponent.Close()

	var matchAt time.Time
	var relayPeer *transport.Peer

	for {
		if ctx.Err() != nil {
			if s.fuzzer != nil {
				_ = s.opponent.Disconnect(s.fuzzer)
			}
			return nil
		}
		now := time.Now()

		ev, err := s.relay.Service(serviceSlice)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		if ev.Type == transport.EventReceive {
			if at, ok := s.handleTicket(ev); ok {
				relayPeer, matchAt = ev.Peer, at
			}
		}
		if relayPeer != nil && !matchAt.IsZero() && !now.Before(matchAt) {
			s.sendTicket(relayPeer)
			matchAt = time.Time{}
		}

		ev, err = s.opponent.Service(serviceSlice)
		if err != nil {
			return fmt.Errorf("opponent: %w", err)
		}
		switch ev.Type {
		case transport.EventConnect:
			s.onConnect(ev.Peer)
		case transport.EventReceive:
			if s.fuzzer == nil {
				s.onConnect(ev.Peer)
			}
			s.onMessage(ev.Data)
		case transport.EventDisconnect:
			s.logger.Info("Fuzzer disconnected")
			s.mu.Lock()
			s.stats.Disconnected = true
			s.mu.Unlock()
			return nil
		}

		if err := s.tick(time.Now()); err != nil {
			return err
		}
	}
}

// handleTicket answers a create-ticket request and reports when the match is due.
func (s *Sim) handleTicket(ev transport.Event) (time.Time, bool) {
	var req relay.TicketRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.Type != relay.TypeCreateTicket {
		s.logger.WithError(err).Warnf("Ignoring relay message (%d bytes)", len(ev.Data))
		return time.Time{}, false
	}

	code := make([]rune, len(req.Search.ConnectCode))
	for i, c := range req.Search.ConnectCode {
		code[i] = rune(c)
	}
	s.logger.Infof("Ticket from uid %q for %q (app %s)", req.User.UID, string(code), req.AppVersion)

	s.mu.Lock()
	s.stats.TicketRequests++
	s.stats.LastRequest = &req
	s.mu.Unlock()

	resp := relay.TicketResponse{Type: relay.TypeCreateTicketResp, Error: s.cfg.Reject}
	if err := s.sendJSON(ev.Peer, resp); err != nil {
		s.logger.WithError(err).Warn("Failed to answer ticket")
		return time.Time{}, false
	}
	if s.cfg.Reject != "" {
		return time.Time{}, false
	}
	return time.Now().Add(s.cfg.MatchDelay), true
}

func (s *Sim) sendTicket(p *transport.Peer) {
	s.mu.Lock()
	uid := s.stats.LastRequest.User.UID
	s.mu.Unlock()

	resp := relay.TicketResponse{
		Type: relay.TypeGetTicketResp,
		Players: []relay.Player{
			{UID: s.cfg.OpponentUID, IPAddress: s.OpponentAddr()},
			{UID: uid, IPAddress: net.JoinHostPort("127.0.0.1", strconv.Itoa(int(s.cfg.FuzzerPort)))},
		},
	}
	if err := s.sendJSON(p, resp); err != nil {
		s.logger.WithError(err).Warn("Failed to send ticket")
		return
	}
	s.logger.Infof("Matched: fuzzer should bind %d and connect to %s", s.cfg.FuzzerPort, s.OpponentAddr())
}

func (s *Sim) sendJSON(p *transport.Peer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.relay.Send(p, data, true)
}

func (s *Sim) onConnect(p *transport.Peer) {
	if s.fuzzer != nil {
		return
	}
	s.fuzzer = p
	s.connectedAt = time.Now()
	s.logger.Infof("Fuzzer connected from %s", p)

	s.mu.Lock()
	s.stats.Connected = true
	s.mu.Unlock()
}

func (s *Sim) onMessage(data []byte) {
	msg, err := s.codec.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		reason := "unknown"
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		s.logger.WithError(err).Debug("Dropping undecodable message")
		s.mu.Lock()
		s.stats.DecodeErrors[reason]++
		s.mu.Unlock()
		return
	}

	s.logger.Trace(protocol.Summary(msg))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Received[msg.Kind().String()]++

	switch m := msg.(type) {
	case *protocol.ChatMessage:
		if !protocol.IsAcceptedChatCode(m.MessageCode) {
			s.stats.RejectedChats++
		}
	case *protocol.InputFrame:
		s.stats.FuzzerFrames++
		s.stats.LastFuzzFrame = m.Frame
		s.delayed = append(s.delayed, delayedAck{due: time.Now().Add(s.cfg.Latency.Delay()), frame: m.Frame})
	case *protocol.InputAck:
		s.stats.AcksReceived++
		if s.stats.FramesSent == 0 || m.Frame < fuzz.DefaultFirstFrame || m.Frame >= s.nextFrame {
			s.stats.BadAcks++
			s.logger.Warnf("Ack for frame %d that was never sent", m.Frame)
		}
		if s.stats.AcksReceived == 1 || m.Frame > s.stats.HighestAck {
			s.stats.HighestAck = m.Frame
		}
	}
}

// tick sends due acknowledgments and paces opponent input frames.
func (s *Sim) tick(now time.Time) error {
	if s.fuzzer == nil {
		return nil
	}

	for len(s.delayed) > 0 && !now.Before(s.delayed[0].due) {
		frame := s.delayed[0].frame
		s.delayed = s.delayed[1:]
		if err := s.send(s.gen.Ack(frame), false); err != nil {
			return err
		}
		s.mu.Lock()
		s.stats.AcksSent++
		s.mu.Unlock()
	}

	if now.Sub(s.connectedAt) < s.cfg.EnterGame {
		return nil
	}

	s.mu.Lock()
	sent := s.stats.FramesSent
	s.mu.Unlock()
	if s.cfg.MaxFrames > 0 && sent >= uint64(s.cfg.MaxFrames) {
		return nil
	}

	if sent == 0 {
		if err := s.send(s.gen.Selections(fuzz.Scripted), true); err != nil {
			return err
		}
		s.logger.Info("Opponent entered game")
	} else if now.Sub(s.lastFrameAt) < s.cfg.FrameEvery {
		return nil
	}

	s.mu.Lock()
	frame := s.nextFrame
	s.nextFrame++
	s.stats.FramesSent++
	s.mu.Unlock()
	s.lastFrameAt = now
	return s.send(s.gen.Frame(frame, fuzz.Scripted), false)
}

func (s *Sim) send(msg protocol.Message, reliable bool) error {
	if err := s.opponent.Send(s.fuzzer, s.codec.Encode(msg), reliable); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return nil
}

func freePort() (uint16, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}
