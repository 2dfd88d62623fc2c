// Package session drives one fuzz run from matchmaking to the in-game loop.
//
// A Session is single-threaded: every step happens inside Run, and the only place it
// waits is the host's Service call.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/events"
	"github.com/slipfuzz/slipfuzz/internal/frames"
	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/metrics"
	"github.com/slipfuzz/slipfuzz/internal/protocol"
	"github.com/slipfuzz/slipfuzz/internal/relay"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// Phase is the session's position in the run.
type Phase int

const (
	PhaseAwaitingTicket Phase = iota
	PhaseAwaitingOpponent
	PhasePreGame
	PhaseInGame
	PhaseFailed
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingTicket:
		return "AWAITING_TICKET"
	case PhaseAwaitingOpponent:
		return "AWAITING_OPPONENT"
	case PhasePreGame:
		return "PRE_GAME"
	case PhaseInGame:
		return "IN_GAME"
	case PhaseFailed:
		return "FAILED"
	case PhaseStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseStopped
}

// errStop ends the run without failure.
var errStop = errors.New("session stopped")

// Config holds session configuration.
type Config struct {
	UID         string
	PlayKey     string
	ConnectCode string // opponent's connect code

	Seed        int64
	SeedDerived bool // Seed came from the wall clock

	Options Options

	Hosts   HostFactory
	Logger  *log.Logger
	Events  events.Emitter   // optional
	Metrics *metrics.Metrics // optional
	Clock   Clock            // optional

	// SeedOut receives the seed line before anything is generated, whatever the log
	// level. Defaults to os.Stdout.
	SeedOut io.Writer

	// BurstProgress is called after every burst chat with the count sent so far.
	BurstProgress func(sent, total int)
}

// Session is one fuzz run.
type Session struct {
	cfg    Config
	opts   Options
	logger *log.Entry
	events events.Emitter
	met    *metrics.Metrics
	clock  Clock

	codec   *protocol.Codec
	gen     *fuzz.Generator
	tracker *frames.Tracker

	phase       Phase
	host        Host
	peer        *transport.Peer
	peerAddr    string
	pendingAcks []int32
}

// New validates cfg and creates a session. Nothing touches the network until Run.
func New(cfg Config) (*Session, error) {
	if cfg.UID == "" {
		return nil, &ConfigError{Field: "uid", Err: errors.New("required")}
	}
	if cfg.PlayKey == "" {
		return nil, &ConfigError{Field: "playKey", Err: errors.New("required")}
	}
	if cfg.ConnectCode == "" {
		return nil, &ConfigError{Field: "connect code", Err: errors.New("required")}
	}
	if cfg.Hosts == nil {
		return nil, &ConfigError{Field: "hosts", Err: errors.New("host factory is required")}
	}
	if cfg.Logger == nil {
		return nil, &ConfigError{Field: "logger", Err: errors.New("required")}
	}

	opts := cfg.Options
	opts.setDefaults()

	s := &Session{
		cfg:     cfg,
		opts:    opts,
		logger:  logging.Component(cfg.Logger, "session"),
		events:  cfg.Events,
		met:     cfg.Metrics,
		clock:   cfg.Clock,
		codec:   protocol.NewCodec(opts.PadArity),
		tracker: frames.NewTracker(opts.FirstFrame, opts.FrameInterval),
		phase:   PhaseAwaitingTicket,
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.met == nil {
		s.met = metrics.New(nil)
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.cfg.SeedOut == nil {
		s.cfg.SeedOut = os.Stdout
	}

	s.gen = fuzz.New(cfg.Seed, fuzz.Options{
		PadArity:      opts.PadArity,
		PlayerIndex:   opts.PlayerIndex,
		NeutralFrames: opts.NeutralFrames,
		SwingFrames:   opts.SwingFrames,
		FirstFrame:    opts.FirstFrame,
	})
	return s, nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Stats returns the frame tracker's counters.
func (s *Session) Stats() frames.Stats {
	return s.tracker.Stats()
}

// Seed returns the run's seed.
func (s *Session) Seed() int64 {
	return s.cfg.Seed
}

// Run executes the session until it fails, the context is cancelled or the frame limit
// is reached. Cancellation and the frame limit end in PhaseStopped and return nil.
func (s *Session) Run(ctx context.Context) error {
	if s.phase != PhaseAwaitingTicket || s.host != nil {
		return errors.New("session already run")
	}

	fmt.Fprintf(s.cfg.SeedOut, "using seed: %d\n", s.cfg.Seed)
	s.logger.WithField("derived", s.cfg.SeedDerived).Debugf("Using seed %d", s.cfg.Seed)
	s.events.Emit(events.EventSeed, events.SeedData{Seed: s.cfg.Seed, Derived: s.cfg.SeedDerived})
	s.met.Phase("", s.phase.String())

	err := s.run(ctx)
	if s.host != nil {
		if s.peer != nil && s.phase != PhaseFailed {
			_ = s.host.Disconnect(s.peer)
		}
		_ = s.host.Close()
	}

	switch {
	case err == nil, errors.Is(err, errStop):
		s.setPhase(PhaseStopped)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.logger.Info("Interrupted")
		s.setPhase(PhaseStopped)
		return nil
	default:
		return err
	}
}

func (s *Session) run(ctx context.Context) error {
	ep, err := s.awaitTicket(ctx)
	if err != nil {
		return s.fail(err)
	}
	if err := s.awaitOpponent(ctx, ep); err != nil {
		return s.fail(err)
	}
	if err := s.preGame(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.inGame(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) fail(err error) error {
	if errors.Is(err, errStop) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.WithError(err).Error("Session failed")
	s.events.Emit(events.EventError, events.ErrorData{Message: err.Error()})
	s.setPhase(PhaseFailed)
	return err
}

func (s *Session) setPhase(to Phase) {
	from := s.phase
	if from == to {
		return
	}
	s.phase = to
	s.logger.WithField("peer", s.peerAddr).Infof("Phase %s -> %s", from, to)
	s.events.Emit(events.EventPhaseChanged, events.PhaseChangedData{
		From:     from.String(),
		To:       to.String(),
		PeerAddr: s.peerAddr,
	})
	s.met.Phase(from.String(), to.String())
}

// awaitTicket negotiates a match through the relay and returns the direct endpoints.
func (s *Session) awaitTicket(ctx context.Context) (relay.Endpoints, error) {
	host, err := s.cfg.Hosts(0)
	if err != nil {
		return relay.Endpoints{}, &RelayError{Op: "open host", Err: err}
	}
	defer host.Close()

	s.logger.Infof("Connecting to relay %s", s.opts.RelayAddress)
	relayPeer, err := host.Connect(s.opts.RelayAddress)
	if err != nil {
		return relay.Endpoints{}, &RelayError{Op: "connect", Err: err}
	}

	ev, err := host.Service(s.opts.RelayConnectTimeout)
	if err != nil {
		return relay.Endpoints{}, &RelayError{Op: "connect", Err: err}
	}
	if ev.Type != transport.EventConnect {
		return relay.Endpoints{}, &RelayError{Op: "connect", Err: ErrRelayUnreachable}
	}

	req, err := relay.NewTicketRequest(s.cfg.UID, s.cfg.PlayKey, s.cfg.ConnectCode, s.opts.AppVersion).Marshal()
	if err != nil {
		return relay.Endpoints{}, &RelayError{Op: "encode ticket", Err: err}
	}
	if err := host.Send(relayPeer, req, true); err != nil {
		return relay.Endpoints{}, &RelayError{Op: "send ticket", Err: err}
	}
	s.logger.Infof("Requested match with %s", s.cfg.ConnectCode)

	started := s.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return relay.Endpoints{}, err
		}
		if s.opts.TicketTimeout > 0 && s.clock.Now().Sub(started) >= s.opts.TicketTimeout {
			return relay.Endpoints{}, &RelayError{Op: "await ticket", Err: ErrTicketTimeout}
		}

		ev, err := host.Service(s.opts.TicketPollInterval)
		if err != nil {
			return relay.Endpoints{}, &RelayError{Op: "await ticket", Err: err}
		}

		switch ev.Type {
		case transport.EventNone:
			s.logger.Info("Waiting to be matched with opponent...")

		case transport.EventConnect:
			s.logger.Debug("Unexpected connect from relay")

		case transport.EventDisconnect:
			return relay.Endpoints{}, &RelayError{Op: "await ticket", Err: ErrRelayDisconnected}

		case transport.EventReceive:
			resp, err := relay.ParseResponse(ev.Data)
			if err != nil {
				return relay.Endpoints{}, &RelayError{Op: "parse response", Err: err}
			}
			if !resp.IsTicket() {
				s.logger.Debugf("Ignoring relay message %q", resp.Type)
				continue
			}

			ep, err := resp.Endpoints(s.cfg.UID)
			if err != nil {
				return relay.Endpoints{}, &RelayError{Op: "read ticket", Err: err}
			}
			s.logger.Infof("Matched: opponent %s, local port %d", ep.Opponent, ep.LocalPort)
			s.events.Emit(events.EventTicket, events.TicketData{
				Opponent:  ep.Opponent,
				LocalPort: ep.LocalPort,
				Players:   len(resp.Players),
			})

			if err := host.Disconnect(relayPeer); err != nil {
				s.logger.WithError(err).Debug("Relay disconnect failed")
			}
			return ep, nil
		}
	}
}

// awaitOpponent opens the direct host and waits for the opponent to connect.
func (s *Session) awaitOpponent(ctx context.Context, ep relay.Endpoints) error {
	s.peerAddr = ep.Opponent
	s.setPhase(PhaseAwaitingOpponent)

	host, err := s.cfg.Hosts(ep.LocalPort)
	if err != nil {
		return &TransportError{Op: "open host", Err: err}
	}
	s.host = host

	peer, err := host.Connect(ep.Opponent)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := host.Service(s.opts.OpponentPollInterval)
		if err != nil {
			return &TransportError{Op: "await opponent", Err: err}
		}

		switch ev.Type {
		case transport.EventNone:
			s.logger.Debug("Waiting for opponent connection...")

		case transport.EventDisconnect:
			return &TransportError{Op: "await opponent", Err: ErrOpponentUnreachable}

		case transport.EventConnect:
			s.peer = peer
			s.logger.Info("Connected to opponent")
			s.setPhase(PhasePreGame)
			return nil

		case transport.EventReceive:
			// Data from the opponent implies the connection is up.
			s.peer = peer
			s.logger.Info("Connected to opponent")
			s.setPhase(PhasePreGame)
			s.handle(ev.Data)
			return s.flush()
		}
	}
}

// preGame sends the chat burst. It ends early once the opponent is in game.
func (s *Session) preGame(ctx context.Context) error {
	total := s.opts.BurstCount
	s.logger.Infof("Sending %d chat messages", total)

	for sent := 0; sent < total; sent++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.tracker.Unlocked() {
			s.logger.Infof("Opponent entered game after %d chat messages", sent)
			break
		}

		if err := s.send(s.gen.Chat(s.opts.ChatMode), false); err != nil {
			return err
		}
		if s.cfg.BurstProgress != nil {
			s.cfg.BurstProgress(sent+1, total)
		}

		if err := s.poll(s.opts.BurstPollInterval); err != nil {
			return err
		}
	}

	s.setPhase(PhaseInGame)
	return nil
}

// inGame sends the opening selections, then interleaves chats, paced input frames
// and acknowledgments until failure, cancellation or the frame limit.
func (s *Session) inGame(ctx context.Context) error {
	if err := s.send(s.gen.Selections(s.opts.SelectionMode), true); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.send(s.gen.Chat(s.opts.ChatMode), false); err != nil {
			return err
		}

		now := s.clock.Now()
		if s.tracker.Due(now) {
			frame := s.tracker.Next(now)
			if err := s.send(s.gen.Frame(frame, s.opts.PadMode), false); err != nil {
				return err
			}
			s.met.FrameSent(frame)

			if s.opts.FrameLimit > 0 && s.tracker.Stats().Sent >= uint64(s.opts.FrameLimit) {
				s.logger.Infof("Frame limit %d reached", s.opts.FrameLimit)
				return errStop
			}
		}

		if err := s.poll(s.opts.GamePollInterval); err != nil {
			return err
		}
	}
}

// poll services the host once and handles whatever arrived.
func (s *Session) poll(timeout time.Duration) error {
	ev, err := s.host.Service(timeout)
	if err != nil {
		return &TransportError{Op: "service", Err: err}
	}

	switch ev.Type {
	case transport.EventReceive:
		s.handle(ev.Data)
		return s.flush()
	case transport.EventDisconnect:
		return &TransportError{Op: "service", Err: ErrOpponentDisconnected}
	case transport.EventConnect:
		s.logger.Debug("Duplicate connect from opponent")
	}
	return nil
}

// handle decodes one inbound payload. Decode failures are logged, counted and dropped.
// Acks owed for received frames are queued and sent by flush.
func (s *Session) handle(data []byte) {
	msg, err := s.codec.Decode(data)
	if err != nil {
		reason := "unknown"
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		s.logger.WithError(err).Warn("Dropping undecodable message")
		s.events.Emit(events.EventDecodeError, events.DecodeErrorData{
			Phase:  s.phase.String(),
			Reason: reason,
			Error:  err.Error(),
			Bytes:  hex.EncodeToString(data),
		})
		s.met.DecodeError(reason)
		return
	}

	s.met.MessageReceived(msg.Kind().String())
	s.events.Emit(events.EventMessageReceived, s.messageData(msg, data, false))
	s.logger.Tracef("recv %s", protocol.Summary(msg))

	switch m := msg.(type) {
	case *protocol.InputFrame:
		s.unlock()
		s.pendingAcks = append(s.pendingAcks, s.tracker.Observe(m.Frame))

	case *protocol.PlayerSelections:
		s.unlock()

	case *protocol.InputAck:
		advanced := s.tracker.Acknowledge(m.Frame)
		s.met.Ack(m.Frame, advanced)
		if !advanced {
			s.logger.Debugf("Out-of-order ack for frame %d", m.Frame)
		}
	}
}

// flush sends the acknowledgments owed for received input frames.
func (s *Session) flush() error {
	for len(s.pendingAcks) > 0 {
		frame := s.pendingAcks[0]
		s.pendingAcks = s.pendingAcks[1:]
		if err := s.send(s.gen.Ack(frame), false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) unlock() {
	if s.tracker.Unlock() {
		s.logger.Info("Opponent is in game, sending input frames")
	}
}

func (s *Session) send(msg protocol.Message, reliable bool) error {
	data := s.codec.Encode(msg)
	if err := s.host.Send(s.peer, data, reliable); err != nil {
		return &TransportError{Op: fmt.Sprintf("send %s", msg.Kind()), Err: err}
	}
	s.met.MessageSent(msg.Kind().String())
	s.events.Emit(events.EventMessageSent, s.messageData(msg, data, reliable))
	s.logger.Tracef("send %s", protocol.Summary(msg))
	return nil
}

func (s *Session) messageData(msg protocol.Message, data []byte, reliable bool) events.MessageData {
	md := events.MessageData{
		Phase:    s.phase.String(),
		Kind:     msg.Kind().String(),
		Summary:  protocol.Summary(msg),
		Bytes:    hex.EncodeToString(data),
		Reliable: reliable,
	}
	switch m := msg.(type) {
	case *protocol.InputFrame:
		f := m.Frame
		md.Frame = &f
	case *protocol.InputAck:
		f := m.Frame
		md.Frame = &f
	}
	return md
}
