package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/slipfuzz/slipfuzz/internal/capture"
	"github.com/slipfuzz/slipfuzz/internal/config"
	"github.com/slipfuzz/slipfuzz/internal/enethost"
	"github.com/slipfuzz/slipfuzz/internal/events"
	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/metrics"
	"github.com/slipfuzz/slipfuzz/internal/session"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

type runFlags struct {
	user         string
	opponent     string
	seed         int64
	replayLast   bool
	profile      string
	relay        string
	logLevel     string
	eventsOutput string
	metricsAddr  string
	captureFile  string
	progress     bool
	frameLimit   int
	transport    string
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "slipfuzz --user user.json --opponent CODE#123",
		Short: "Fuzz a netplay opponent with seeded protocol messages",
		Long: `slipfuzz asks the matchmaking relay for a direct match with an opponent,
connects to them and then sends a burst of chat messages followed by a stream of
input frames, all generated from one seed. The seed is printed first so any run
can be replayed with --seed or --replay-last.`,
		Example: `  # Fuzz a friend, deriving the seed from the clock
  slipfuzz -u ~/.slippi/user.json -o FRND#123

  # Repeat the previous run exactly
  slipfuzz -u ~/.slippi/user.json --replay-last

  # Record every datagram and expose metrics
  slipfuzz -u user.json -o FRND#123 --capture-file run.pcap --metrics-addr :9100

  # Run against a local peer-sim
  slipfuzz -u user.json -o SIM#001 --transport udp --relay 127.0.0.1:43113`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.user, "user", "u", "", "Path to the user.json credentials file (required)")
	flags.StringVarP(&f.opponent, "opponent", "o", "", "Opponent connect code, e.g. ABCD#123")
	flags.Int64VarP(&f.seed, "seed", "s", 0, "Seed for the message generator (derived from the clock if omitted)")
	flags.BoolVar(&f.replayLast, "replay-last", false, "Reuse the seed and opponent of the previous run")
	flags.StringVar(&f.profile, "profile", "", "Fuzz profile file (.json, .yaml, .yml or .toml)")
	flags.StringVar(&f.relay, "relay", "", "Relay address host:port (overrides the profile)")
	flags.StringVar(&f.logLevel, "log", defaultLogLevel, "Log level: error|warn|info|debug|trace")
	flags.StringVar(&f.eventsOutput, "events-output", "", "Write JSON Line events to stdout, stderr or a file path (comma-separated for several)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled if empty)")
	flags.StringVar(&f.captureFile, "capture-file", "", "Record every datagram to this pcap file")
	flags.BoolVar(&f.progress, "progress", false, "Show a progress bar during the chat burst")
	flags.StringVar(&f.transport, "transport", transportENet, "Network host: enet (relay and game clients) or udp (peer-sim only)")
	flags.IntVar(&f.frameLimit, "frame-limit", 0, "Stop after this many input frames (overrides the profile, 0 runs until interrupted)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runFuzz(cmd *cobra.Command, f runFlags) error {
	level, err := logging.ParseLevel(f.logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level, os.Stderr)
	logger.Infof("slipfuzz %s starting", Version)

	hostsFor, err := parseTransport(f.transport)
	if err != nil {
		return err
	}

	creds, err := config.LoadCredentials(f.user)
	if err != nil {
		return err
	}

	profile, err := config.LoadProfile(f.profile)
	if err != nil {
		return err
	}
	opts, err := profile.Options()
	if err != nil {
		return err
	}
	if f.relay != "" {
		opts.RelayAddress = f.relay
	}
	if cmd.Flags().Changed("frame-limit") {
		opts.FrameLimit = f.frameLimit
	}

	state, err := config.Load()
	if err != nil {
		logger.WithError(err).Warn("Failed to load config")
		state = &config.Config{}
	}

	seed, derived, opponent, err := resolveRun(cmd, f, state)
	if err != nil {
		return err
	}

	emitter, err := events.Open(f.eventsOutput)
	if err != nil {
		return err
	}
	defer emitter.Close()
	if f.eventsOutput != "" {
		logger.Infof("Events output: %s", f.eventsOutput)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)
	if f.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, f.metricsAddr, reg, logging.Component(logger, "metrics")); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	var tap transport.TapFunc
	if f.captureFile != "" {
		rec, err := capture.Create(f.captureFile, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close capture file")
			}
			logger.Infof("Captured %d datagrams to %s", rec.Packets(), f.captureFile)
		}()
		tap = rec.Tap
	}

	var bar *burstProgress
	var progress func(sent, total int)
	if f.progress {
		bar = newBurstProgress(opts.BurstCount)
		progress = bar.Update
	}

	// Remembered before the run so a crash can be replayed.
	state.RememberRun(seed, opponent, time.Now())
	if err := state.Save(); err != nil {
		logger.WithError(err).Warn("Failed to save config")
	}

	sess, err := session.New(session.Config{
		UID:           creds.UID,
		PlayKey:       creds.PlayKey,
		ConnectCode:   opponent,
		Seed:          seed,
		SeedDerived:   derived,
		Options:       opts,
		Hosts:         hostsFor(logger, tap),
		Logger:        logger,
		Events:        emitter,
		Metrics:       met,
		SeedOut:       cmd.OutOrStdout(),
		BurstProgress: progress,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	runErr := sess.Run(ctx)
	if bar != nil {
		bar.Done()
	}
	logSummary(logger, sess, time.Since(start))
	return runErr
}

const (
	transportENet = "enet"
	transportUDP  = "udp"
)

type hostsFunc func(*log.Logger, transport.TapFunc) session.HostFactory

// parseTransport maps a --transport value to a host factory. The relay and game
// clients speak ENet; the plain UDP transport only talks to peer-sim.
func parseTransport(name string) (hostsFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case transportENet:
		return enethost.Hosts, nil
	case transportUDP:
		return session.TransportHosts, nil
	default:
		return nil, &session.ConfigError{Field: "transport", Err: fmt.Errorf("unknown transport %q: must be enet or udp", name)}
	}
}

// resolveRun picks the seed and opponent from the flags, falling back to the previous
// run for --replay-last and to the clock for the seed.
func resolveRun(cmd *cobra.Command, f runFlags, state *config.Config) (seed int64, derived bool, opponent string, err error) {
	opponent = f.opponent
	seedSet := cmd.Flags().Changed("seed")
	seed = f.seed

	if f.replayLast {
		last, ok := state.LastRun()
		if !ok {
			return 0, false, "", &session.ConfigError{Field: "replay-last", Err: errors.New("no previous run recorded")}
		}
		if !seedSet {
			seed, seedSet = last.Seed, true
		}
		if opponent == "" {
			opponent = last.Opponent
		}
	}

	if opponent == "" {
		return 0, false, "", &session.ConfigError{Field: "opponent", Err: errors.New("required (use --opponent or --replay-last)")}
	}
	if !seedSet {
		seed, derived = fuzz.DeriveSeed(time.Now()), true
	}
	return seed, derived, opponent, nil
}

func logSummary(logger *log.Logger, sess *session.Session, elapsed time.Duration) {
	st := sess.Stats()
	entry := logger.WithFields(log.Fields{
		"seed":        sess.Seed(),
		"phase":       sess.Phase().String(),
		"duration":    elapsed.Round(time.Millisecond).String(),
		"frames_sent": st.Sent,
		"peer_frames": st.PeerFrames,
		"acks":        st.AcksReceived,
	})
	if st.AcksReceived > 0 {
		entry = entry.WithField("highest_acked", st.HighestAcked)
	}
	if st.OutOfOrderAcks > 0 {
		entry = entry.WithField("out_of_order_acks", st.OutOfOrderAcks)
	}
	entry.Info("Session summary")
}
