// Package fuzz produces deterministic, seeded message payloads for a fuzz run.
//
// A Generator owns the only random source of a run. Every call consumes the source
// in a fixed order, so replaying the same seed with the same sequence of calls yields
// the same messages.
package fuzz

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/slipfuzz/slipfuzz/internal/protocol"
)

// Mode selects how field values are chosen. The zero value is EnumeratedDomain.
type Mode int

const (
	// EnumeratedDomain draws fields from their accepted value sets.
	EnumeratedDomain Mode = iota
	// RandomizeAllFields draws every field uniformly over its full bit width.
	RandomizeAllFields
	// Scripted follows a deterministic, game-consistent pattern.
	Scripted
)

func (m Mode) String() string {
	switch m {
	case EnumeratedDomain:
		return "enumerated"
	case RandomizeAllFields:
		return "random"
	case Scripted:
		return "scripted"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random", "randomize", "randomize-all":
		return RandomizeAllFields, nil
	case "enumerated", "enum":
		return EnumeratedDomain, nil
	case "scripted", "script":
		return Scripted, nil
	default:
		return EnumeratedDomain, fmt.Errorf("invalid fuzz mode %q: must be random, enumerated, or scripted", s)
	}
}

// Default script parameters.
const (
	DefaultNeutralFrames = 60
	DefaultSwingFrames   = 30
	DefaultFirstFrame    = -123
)

// Options tunes the generator.
type Options struct {
	PadArity      int   // pad words per InputFrame (default protocol.DefaultPadArity)
	PlayerIndex   uint8 // local player index used by scripted messages
	NeutralFrames int   // scripted frames with a centred stick before swinging
	SwingFrames   int   // scripted frames per left/right swing
	FirstFrame    int32 // first frame number used by Generate for scripted frames
}

// DefaultOptions returns the options used when no profile overrides them.
func DefaultOptions() Options {
	return Options{
		PadArity:      protocol.DefaultPadArity,
		NeutralFrames: DefaultNeutralFrames,
		SwingFrames:   DefaultSwingFrames,
		FirstFrame:    DefaultFirstFrame,
	}
}

func (o *Options) setDefaults() {
	if o.PadArity <= 0 {
		o.PadArity = protocol.DefaultPadArity
	}
	if o.NeutralFrames < 0 {
		o.NeutralFrames = 0
	}
	if o.SwingFrames <= 0 {
		o.SwingFrames = DefaultSwingFrames
	}
}

// Generator produces messages from one seeded source.
type Generator struct {
	seed int64
	rng  *rand.Rand
	opts Options

	scriptStep  int   // scripted InputFrames produced so far
	scriptFrame int32 // frame number for standalone scripted frames
	chatStep    int   // scripted chats produced so far
}

// New creates a generator for seed.
func New(seed int64, opts Options) *Generator {
	opts.setDefaults()
	return &Generator{
		seed:        seed,
		rng:         rand.New(rand.NewSource(seed)),
		opts:        opts,
		scriptFrame: opts.FirstFrame,
	}
}

// DeriveSeed returns a seed from the wall clock in milliseconds.
func DeriveSeed(now time.Time) int64 {
	return now.UnixMilli()
}

// Seed returns the seed the generator was created with.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Generate builds a message of the given kind. Modes that do not apply to a kind fall
// back to Scripted values for that kind.
func (g *Generator) Generate(kind protocol.Kind, mode Mode) protocol.Message {
	switch kind {
	case protocol.KindInputFrame:
		if mode == RandomizeAllFields {
			return g.Frame(int32(g.rng.Uint32()), mode)
		}
		frame := g.scriptFrame
		g.scriptFrame++
		return g.Frame(frame, mode)
	case protocol.KindInputAck:
		if mode == RandomizeAllFields {
			return &protocol.InputAck{Frame: int32(g.rng.Uint32()), PlayerIndex: g.u8()}
		}
		return g.Ack(g.scriptFrame)
	case protocol.KindPlayerSelections:
		return g.Selections(mode)
	case protocol.KindConnectionSelected:
		return &protocol.ConnectionSelected{}
	case protocol.KindChatMessage:
		return g.Chat(mode)
	default:
		panic(fmt.Sprintf("fuzz: unknown kind %v", kind))
	}
}

// Chat builds a chat message. EnumeratedDomain keeps the code inside protocol.ChatCodes;
// RandomizeAllFields uses the full 32-bit code domain to exercise out-of-domain rejection.
func (g *Generator) Chat(mode Mode) *protocol.ChatMessage {
	switch mode {
	case RandomizeAllFields:
		return &protocol.ChatMessage{MessageCode: g.rng.Uint32(), PlayerIndex: g.u8()}
	case EnumeratedDomain:
		code := protocol.ChatCodes[g.rng.Intn(len(protocol.ChatCodes))]
		return &protocol.ChatMessage{MessageCode: code, PlayerIndex: g.u8()}
	default:
		code := protocol.ChatCodes[g.chatStep%len(protocol.ChatCodes)]
		g.chatStep++
		return &protocol.ChatMessage{MessageCode: code, PlayerIndex: g.opts.PlayerIndex}
	}
}

// Selections builds a player selections message.
func (g *Generator) Selections(mode Mode) *protocol.PlayerSelections {
	if mode == RandomizeAllFields {
		return &protocol.PlayerSelections{
			CharacterID:       g.u8(),
			CharacterColor:    g.u8(),
			CharacterSelected: g.u8(),
			PlayerIndex:       g.u8(),
			StageID:           uint16(g.rng.Uint32()),
			StageSelected:     g.u8(),
			RNGOffset:         g.rng.Uint32(),
			TeamID:            g.u8(),
		}
	}
	return &protocol.PlayerSelections{
		CharacterID:       7,
		CharacterColor:    0,
		CharacterSelected: 1,
		PlayerIndex:       g.opts.PlayerIndex,
		StageID:           3,
		StageSelected:     1,
		RNGOffset:         0x12345678,
		TeamID:            0,
	}
}

// Frame builds an input frame for the given frame number.
func (g *Generator) Frame(frame int32, mode Mode) *protocol.InputFrame {
	pads := make([]uint64, g.opts.PadArity)
	if mode == RandomizeAllFields {
		player := g.u8()
		for i := range pads {
			pads[i] = g.rng.Uint64()
		}
		return &protocol.InputFrame{Frame: frame, PlayerIndex: player, Pads: pads}
	}

	word := g.scriptedPad().Pack()
	for i := range pads {
		pads[i] = word
	}
	return &protocol.InputFrame{Frame: frame, PlayerIndex: g.opts.PlayerIndex, Pads: pads}
}

// Ack builds the acknowledgment for frame. It consumes no randomness.
func (g *Generator) Ack(frame int32) *protocol.InputAck {
	return &protocol.InputAck{Frame: frame, PlayerIndex: g.opts.PlayerIndex}
}

// scriptedPad holds the stick centred for NeutralFrames, then swings it fully left and
// right every SwingFrames.
func (g *Generator) scriptedPad() protocol.Pad {
	step := g.scriptStep
	g.scriptStep++

	pad := protocol.NeutralPad()
	if step < g.opts.NeutralFrames {
		return pad
	}
	if ((step-g.opts.NeutralFrames)/g.opts.SwingFrames)%2 == 0 {
		pad.StickX = protocol.StickLeft
	} else {
		pad.StickX = protocol.StickRight
	}
	return pad
}

func (g *Generator) u8() uint8 {
	return uint8(g.rng.Uint32())
}
