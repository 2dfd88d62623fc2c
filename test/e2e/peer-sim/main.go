// peer-sim plays the matchmaking relay and a matched opponent on loopback so slipfuzz
// can be exercised end to end without a game client.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipfuzz/slipfuzz/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "peer-sim",
		Short:         "Relay and opponent simulator for slipfuzz",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), selftestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type latencyFlags struct {
	base, jitter, step time.Duration
}

func (l *latencyFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&l.base, "latency-base", 0, "Base delay before the opponent acks a frame")
	cmd.Flags().DurationVar(&l.jitter, "latency-jitter", 0, "Jitter range (±) around the base delay")
	cmd.Flags().DurationVar(&l.step, "latency-step", 5*time.Millisecond, "Step size for interactive +/- adjustment")
}

func serveCmd() *cobra.Command {
	var (
		cfg      SimConfig
		lat      latencyFlags
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator until interrupted",
		Long: `Run a relay and an opponent. Point slipfuzz at the relay with
--transport udp --relay 127.0.0.1:<relay-port>; the ticket matches it with the
simulated opponent.

Keys (when attached to a terminal): +/= raise ack latency, - lower it,
s print stats, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			cfg.Logger = logging.New(level, os.Stderr)
			cfg.Latency = NewLatency(lat.base, lat.jitter, lat.step, time.Now().UnixNano())
			logger := logging.Component(cfg.Logger, "peer-sim")

			sim, err := NewSim(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger.Infof("Relay listening on %s", sim.RelayAddr())
			logger.Infof("Opponent listening on %s", sim.OpponentAddr())
			logger.Infof("Ack latency: %s", cfg.Latency)
			if interactive() {
				go readKeys(ctx, sim, cfg.Latency, logger, cancel)
				logger.Info("Interactive mode: +/= increase latency, - decrease, s stats, q quit")
			}

			if err := sim.Run(ctx); err != nil {
				return err
			}
			st := sim.Stats()
			printStats(cmd, st)
			if st.BadAcks > 0 {
				return fmt.Errorf("%d acks for frames that were never sent", st.BadAcks)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint16Var(&cfg.RelayPort, "relay-port", 43113, "UDP port for the relay")
	flags.Uint16Var(&cfg.OpponentPort, "opponent-port", 0, "UDP port for the opponent (0 picks one)")
	flags.Uint16Var(&cfg.FuzzerPort, "fuzzer-port", 0, "Port the ticket tells slipfuzz to bind (0 picks one)")
	flags.StringVar(&cfg.OpponentUID, "uid", "peer-sim", "Opponent uid written into tickets")
	flags.DurationVar(&cfg.MatchDelay, "match-delay", 3*time.Second, "Delay before the ticket is matched")
	flags.StringVar(&cfg.Reject, "reject", "", "Reject every ticket with this error")
	flags.DurationVar(&cfg.EnterGame, "enter-game", 2*time.Second, "Delay after connecting before the opponent sends frames")
	flags.DurationVar(&cfg.FrameEvery, "frame-interval", 16*time.Millisecond, "Interval between opponent input frames")
	flags.IntVar(&cfg.MaxFrames, "frames", 0, "Opponent frames to send (0 is unlimited)")
	flags.Int64Var(&cfg.Seed, "seed", 1, "Seed for opponent messages")
	flags.IntVar(&cfg.PadArity, "pad-arity", 1, "Pad words per input frame")
	flags.StringVar(&logLevel, "log", "info", "Log level: error|warn|info|debug|trace")
	lat.register(cmd)

	return cmd
}

func selftestCmd() *cobra.Command {
	var (
		cfg      SelftestConfig
		lat      latencyFlags
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a fuzz session against the simulator and check both sides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			cfg.Logger = logging.New(level, os.Stderr)
			cfg.Latency = NewLatency(lat.base, lat.jitter, lat.step, cfg.Seed)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== slipfuzz E2E selftest ===")
			checks, err := Selftest(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			failed := 0
			for i, c := range checks {
				status := "PASSED"
				if !c.Passed {
					status = "FAILED"
					failed++
				}
				fmt.Fprintf(out, "Test %d: %s... %s", i+1, c.Name, status)
				if c.Detail != "" {
					fmt.Fprintf(out, " (%s)", c.Detail)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "\nResults: %d passed, %d failed\n", len(checks)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&cfg.Seed, "seed", 1, "Fuzzer seed")
	flags.IntVar(&cfg.BurstCount, "burst", 20, "Chat burst size")
	flags.IntVar(&cfg.Frames, "frames", 60, "Fuzzer frame limit")
	flags.DurationVar(&cfg.EnterGame, "enter-game", 200*time.Millisecond, "Delay before the opponent starts sending frames")
	flags.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Overall deadline")
	flags.StringVar(&logLevel, "log", "warn", "Log level: error|warn|info|debug|trace")
	lat.register(cmd)

	return cmd
}

func printStats(cmd *cobra.Command, st SimStats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tickets: %d  connected: %t\n", st.TicketRequests, st.Connected)

	kinds := make([]string, 0, len(st.Received))
	for k := range st.Received {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  received %-20s %d\n", k, st.Received[k])
	}
	for reason, n := range st.DecodeErrors {
		fmt.Fprintf(out, "  decode error %-16s %d\n", reason, n)
	}
	fmt.Fprintf(out, "Rejected chats: %d\n", st.RejectedChats)
	fmt.Fprintf(out, "Opponent frames sent: %d, acked: %d (bad %d, highest %d)\n", st.FramesSent, st.AcksReceived, st.BadAcks, st.HighestAck)
	fmt.Fprintf(out, "Fuzzer frames received: %d (last %d), acks sent: %d\n", st.FuzzerFrames, st.LastFuzzFrame, st.AcksSent)
}
