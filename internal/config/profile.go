package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/session"
)

// Profile tunes a fuzz run. Durations accept Go duration strings ("50ms").
type Profile struct {
	RelayAddress string `koanf:"relay_address"`
	AppVersion   string `koanf:"app_version"`

	RelayConnectTimeout  time.Duration `koanf:"relay_connect_timeout"`
	TicketPollInterval   time.Duration `koanf:"ticket_poll_interval"`
	TicketTimeout        time.Duration `koanf:"ticket_timeout"`
	OpponentPollInterval time.Duration `koanf:"opponent_poll_interval"`

	BurstCount        int           `koanf:"burst_count"`
	BurstPollInterval time.Duration `koanf:"burst_poll_interval"`
	GamePollInterval  time.Duration `koanf:"game_poll_interval"`
	FrameInterval     time.Duration `koanf:"frame_interval"`

	FirstFrame    int32 `koanf:"first_frame"`
	PadArity      int   `koanf:"pad_arity"`
	NeutralFrames int   `koanf:"neutral_frames"`
	SwingFrames   int   `koanf:"swing_frames"`
	PlayerIndex   uint8 `koanf:"player_index"`

	ChatMode      string `koanf:"chat_mode"`
	SelectionMode string `koanf:"selection_mode"`
	PadMode       string `koanf:"pad_mode"`

	FrameLimit int `koanf:"frame_limit"`
}

// DefaultProfile mirrors session.DefaultOptions.
func DefaultProfile() Profile {
	o := session.DefaultOptions()
	return Profile{
		RelayAddress:         o.RelayAddress,
		AppVersion:           o.AppVersion,
		RelayConnectTimeout:  o.RelayConnectTimeout,
		TicketPollInterval:   o.TicketPollInterval,
		TicketTimeout:        o.TicketTimeout,
		OpponentPollInterval: o.OpponentPollInterval,
		BurstCount:           o.BurstCount,
		BurstPollInterval:    o.BurstPollInterval,
		GamePollInterval:     o.GamePollInterval,
		FrameInterval:        o.FrameInterval,
		FirstFrame:           o.FirstFrame,
		PadArity:             o.PadArity,
		NeutralFrames:        o.NeutralFrames,
		SwingFrames:          o.SwingFrames,
		PlayerIndex:          o.PlayerIndex,
		ChatMode:             o.ChatMode.String(),
		SelectionMode:        o.SelectionMode.String(),
		PadMode:              o.PadMode.String(),
		FrameLimit:           o.FrameLimit,
	}
}

// LoadProfile reads a profile file and overlays it on DefaultProfile. The format is
// chosen by extension. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	parser, err := parserFor(path)
	if err != nil {
		return Profile{}, &session.ConfigError{Field: "profile", Err: err}
	}
	k, err := load(path, parser)
	if err != nil {
		return Profile{}, &session.ConfigError{Field: "profile", Err: err}
	}
	if err := k.UnmarshalWithConf("", &p, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Profile{}, &session.ConfigError{Field: "profile", Err: err}
	}
	if _, err := p.Options(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Options converts the profile into session options.
func (p Profile) Options() (session.Options, error) {
	chat, err := fuzz.ParseMode(p.ChatMode)
	if err != nil {
		return session.Options{}, &session.ConfigError{Field: "chat_mode", Err: err}
	}
	selection, err := fuzz.ParseMode(p.SelectionMode)
	if err != nil {
		return session.Options{}, &session.ConfigError{Field: "selection_mode", Err: err}
	}
	pad, err := fuzz.ParseMode(p.PadMode)
	if err != nil {
		return session.Options{}, &session.ConfigError{Field: "pad_mode", Err: err}
	}

	return session.Options{
		RelayAddress:         p.RelayAddress,
		AppVersion:           p.AppVersion,
		RelayConnectTimeout:  p.RelayConnectTimeout,
		TicketPollInterval:   p.TicketPollInterval,
		TicketTimeout:        p.TicketTimeout,
		OpponentPollInterval: p.OpponentPollInterval,
		BurstCount:           p.BurstCount,
		BurstPollInterval:    p.BurstPollInterval,
		GamePollInterval:     p.GamePollInterval,
		FrameInterval:        p.FrameInterval,
		FirstFrame:           p.FirstFrame,
		PadArity:             p.PadArity,
		NeutralFrames:        p.NeutralFrames,
		SwingFrames:          p.SwingFrames,
		PlayerIndex:          p.PlayerIndex,
		ChatMode:             chat,
		SelectionMode:        selection,
		PadMode:              pad,
		FrameLimit:           p.FrameLimit,
	}, nil
}
