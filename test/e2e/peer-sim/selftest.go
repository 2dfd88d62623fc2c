package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/protocol"
	"github.com/slipfuzz/slipfuzz/internal/session"
)

// Check is one selftest assertion.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// SelftestConfig sizes a selftest run.
type SelftestConfig struct {
	Seed       int64
	BurstCount int
	Frames     int
	EnterGame  time.Duration
	Latency    *Latency
	Timeout    time.Duration
	Logger     *log.Logger
}

// Selftest runs a fuzz session against a simulator over loopback and checks what each
// side saw.
func Selftest(ctx context.Context, cfg SelftestConfig) ([]Check, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	sim, err := NewSim(SimConfig{
		MatchDelay: 50 * time.Millisecond,
		EnterGame:  cfg.EnterGame,
		FrameEvery: 5 * time.Millisecond,
		Seed:       cfg.Seed + 1,
		Latency:    cfg.Latency,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	simDone := make(chan error, 1)
	go func() { simDone <- sim.Run(ctx) }()

	opts := session.DefaultOptions()
	opts.RelayAddress = sim.RelayAddr()
	opts.BurstCount = cfg.BurstCount
	opts.BurstPollInterval = 5 * time.Millisecond
	opts.TicketPollInterval = 20 * time.Millisecond
	opts.OpponentPollInterval = 20 * time.Millisecond
	opts.FrameInterval = 5 * time.Millisecond
	opts.GamePollInterval = time.Millisecond
	opts.FrameLimit = cfg.Frames
	opts.ChatMode = fuzz.RandomizeAllFields

	sess, err := session.New(session.Config{
		UID:         "selftest",
		PlayKey:     "selftest-key",
		ConnectCode: "SIM#001",
		Seed:        cfg.Seed,
		Options:     opts,
		Hosts:       session.TransportHosts(cfg.Logger, nil),
		Logger:      cfg.Logger,
	})
	if err != nil {
		cancel()
		<-simDone
		return nil, err
	}

	runErr := sess.Run(ctx)
	simErr := <-simDone

	st := sess.Stats()
	ss := sim.Stats()
	checks := []Check{
		{"session stopped cleanly", runErr == nil && sess.Phase() == session.PhaseStopped, fmt.Sprintf("err=%v phase=%s", runErr, sess.Phase())},
		{"simulator exited cleanly", simErr == nil, fmt.Sprintf("err=%v", simErr)},
		{"one ticket requested", ss.TicketRequests == 1, fmt.Sprintf("requests=%d", ss.TicketRequests)},
		{"opponent connected", ss.Connected, ""},
		{"chat burst received", ss.Received[protocol.KindChatMessage.String()] > 0, fmt.Sprintf("chats=%d", ss.Received[protocol.KindChatMessage.String()])},
		{"selections sent once", ss.Received[protocol.KindPlayerSelections.String()] == 1, fmt.Sprintf("selections=%d", ss.Received[protocol.KindPlayerSelections.String()])},
		{"frame limit honoured", st.Sent == uint64(cfg.Frames), fmt.Sprintf("sent=%d limit=%d", st.Sent, cfg.Frames)},
		{"fuzzer frames arrived", ss.FuzzerFrames > 0, fmt.Sprintf("frames=%d", ss.FuzzerFrames)},
		{"opponent frames acked", ss.AcksReceived > 0 && ss.BadAcks == 0, fmt.Sprintf("acks=%d bad=%d", ss.AcksReceived, ss.BadAcks)},
		{"fuzzer frames acked", st.AcksReceived > 0 && st.UnknownFrameAck == 0, fmt.Sprintf("acks=%d unknown=%d", st.AcksReceived, st.UnknownFrameAck)},
		{"no decode errors", len(ss.DecodeErrors) == 0, fmt.Sprintf("%v", ss.DecodeErrors)},
	}
	return checks, nil
}
