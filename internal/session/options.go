package session

import (
	"time"

	"github.com/slipfuzz/slipfuzz/internal/frames"
	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/protocol"
	"github.com/slipfuzz/slipfuzz/internal/relay"
)

// Timing and volume defaults.
const (
	DefaultRelayConnectTimeout  = 1000 * time.Millisecond
	DefaultTicketPollInterval   = 2000 * time.Millisecond
	DefaultOpponentPollInterval = 2000 * time.Millisecond
	DefaultBurstCount           = 1000
	DefaultBurstPollInterval    = 50 * time.Millisecond
	DefaultGamePollInterval     = 5 * time.Millisecond
)

// Options tune a session. Callers start from DefaultOptions. Zero durations and arities
// fall back to their defaults; a zero TicketTimeout or FrameLimit means unbounded.
type Options struct {
	RelayAddress string
	AppVersion   string

	RelayConnectTimeout  time.Duration
	TicketPollInterval   time.Duration
	TicketTimeout        time.Duration
	OpponentPollInterval time.Duration

	BurstCount        int
	BurstPollInterval time.Duration
	GamePollInterval  time.Duration
	FrameInterval     time.Duration

	FirstFrame    int32
	PadArity      int
	NeutralFrames int
	SwingFrames   int
	PlayerIndex   uint8

	ChatMode      fuzz.Mode
	SelectionMode fuzz.Mode
	PadMode       fuzz.Mode

	FrameLimit int
}

// DefaultOptions returns the behaviour of a plain run.
func DefaultOptions() Options {
	return Options{
		RelayAddress:         relay.DefaultAddress,
		AppVersion:           relay.DefaultAppVersion,
		RelayConnectTimeout:  DefaultRelayConnectTimeout,
		TicketPollInterval:   DefaultTicketPollInterval,
		OpponentPollInterval: DefaultOpponentPollInterval,
		BurstCount:           DefaultBurstCount,
		BurstPollInterval:    DefaultBurstPollInterval,
		GamePollInterval:     DefaultGamePollInterval,
		FrameInterval:        frames.DefaultInterval,
		FirstFrame:           fuzz.DefaultFirstFrame,
		PadArity:             protocol.DefaultPadArity,
		NeutralFrames:        fuzz.DefaultNeutralFrames,
		SwingFrames:          fuzz.DefaultSwingFrames,
		ChatMode:             fuzz.EnumeratedDomain,
		SelectionMode:        fuzz.RandomizeAllFields,
		PadMode:              fuzz.Scripted,
	}
}

func (o *Options) setDefaults() {
	d := DefaultOptions()
	if o.RelayAddress == "" {
		o.RelayAddress = d.RelayAddress
	}
	if o.AppVersion == "" {
		o.AppVersion = d.AppVersion
	}
	if o.RelayConnectTimeout <= 0 {
		o.RelayConnectTimeout = d.RelayConnectTimeout
	}
	if o.TicketPollInterval <= 0 {
		o.TicketPollInterval = d.TicketPollInterval
	}
	if o.OpponentPollInterval <= 0 {
		o.OpponentPollInterval = d.OpponentPollInterval
	}
	if o.BurstCount < 0 {
		o.BurstCount = 0
	}
	if o.BurstPollInterval <= 0 {
		o.BurstPollInterval = d.BurstPollInterval
	}
	if o.GamePollInterval <= 0 {
		o.GamePollInterval = d.GamePollInterval
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = d.FrameInterval
	}
	if o.PadArity <= 0 {
		o.PadArity = d.PadArity
	}
	if o.SwingFrames <= 0 {
		o.SwingFrames = d.SwingFrames
	}
	if o.NeutralFrames < 0 {
		o.NeutralFrames = 0
	}
}
