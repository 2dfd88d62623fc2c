// Package protocol implements the netplay wire messages exchanged between two game clients.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message tags.
const (
	TagInputFrame         byte = 0x80 // Controller input for one frame
	TagInputAck           byte = 0x81 // Acknowledges a received input frame
	TagPlayerSelections   byte = 0x82 // Character/stage selections
	TagConnectionSelected byte = 0x83 // Connection chosen, no payload
	TagChatMessage        byte = 0x84 // Quick-chat message
)

// Size constants.
const (
	PadSize = 8 // One pad word (uint64)

	InputFrameHeaderSize   = 1 + 4 + 1 // tag + frame + player
	InputAckSize           = 1 + 4 + 1
	PlayerSelectionsSize   = 1 + 1 + 1 + 1 + 1 + 2 + 1 + 4 + 1
	ConnectionSelectedSize = 1
	ChatMessageSize        = 1 + 4 + 1

	// DefaultPadArity is the pad count observed on the wire for the current protocol version.
	DefaultPadArity = 1
)

// Sentinel errors matched by DecodeError.Is.
var (
	ErrTooShort      = errors.New("message too short")
	ErrUnknownTag    = errors.New("unknown message tag")
	ErrArityMismatch = errors.New("pad count mismatch")
)

// Kind identifies a message type. Its value is the wire tag.
type Kind byte

const (
	KindInputFrame         = Kind(TagInputFrame)
	KindInputAck           = Kind(TagInputAck)
	KindPlayerSelections   = Kind(TagPlayerSelections)
	KindConnectionSelected = Kind(TagConnectionSelected)
	KindChatMessage        = Kind(TagChatMessage)
)

// Kinds lists every message kind known to the protocol.
var Kinds = []Kind{
	KindInputFrame,
	KindInputAck,
	KindPlayerSelections,
	KindConnectionSelected,
	KindChatMessage,
}

func (k Kind) String() string {
	return KindName(byte(k))
}

// KindName returns a human-readable name for a message tag.
func KindName(tag byte) string {
	switch tag {
	case TagInputFrame:
		return "INPUT_FRAME"
	case TagInputAck:
		return "INPUT_ACK"
	case TagPlayerSelections:
		return "PLAYER_SELECTIONS"
	case TagConnectionSelected:
		return "CONNECTION_SELECTED"
	case TagChatMessage:
		return "CHAT_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", tag)
	}
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
}

// InputFrame carries controller state for one frame.
// Frame is negative during the pre-game countdown.
type InputFrame struct {
	Frame       int32
	PlayerIndex uint8
	Pads        []uint64
}

// InputAck acknowledges an InputFrame.
type InputAck struct {
	Frame       int32
	PlayerIndex uint8
}

// PlayerSelections carries character and stage choices.
type PlayerSelections struct {
	CharacterID       uint8
	CharacterColor    uint8
	CharacterSelected uint8
	PlayerIndex       uint8
	StageID           uint16
	StageSelected     uint8
	RNGOffset         uint32
	TeamID            uint8
}

// ConnectionSelected has no payload.
type ConnectionSelected struct{}

// ChatMessage is a quick-chat message. Receivers only accept codes from ChatCodes.
type ChatMessage struct {
	MessageCode uint32
	PlayerIndex uint8
}

func (*InputFrame) Kind() Kind         { return KindInputFrame }
func (*InputAck) Kind() Kind           { return KindInputAck }
func (*PlayerSelections) Kind() Kind   { return KindPlayerSelections }
func (*ConnectionSelected) Kind() Kind { return KindConnectionSelected }
func (*ChatMessage) Kind() Kind        { return KindChatMessage }

// ChatCodes is the closed set of chat codes accepted by the game.
var ChatCodes = [16]uint32{136, 129, 130, 132, 34, 40, 33, 36, 72, 66, 68, 65, 24, 18, 20, 17}

// IsAcceptedChatCode reports whether code is one of ChatCodes.
func IsAcceptedChatCode(code uint32) bool {
	for _, c := range ChatCodes {
		if c == code {
			return true
		}
	}
	return false
}

// DecodeError describes why an incoming message could not be decoded.
type DecodeError struct {
	Err  error // ErrTooShort, ErrUnknownTag or ErrArityMismatch
	Tag  byte
	Len  int
	Want int // expected length, when known
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnknownTag):
		return fmt.Sprintf("%v: 0x%02x", e.Err, e.Tag)
	case e.Len == 0:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%v: %s has %d bytes, want %d", e.Err, KindName(e.Tag), e.Len, e.Want)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reason returns a short label for metrics and events.
func (e *DecodeError) Reason() string {
	switch e.Err {
	case ErrTooShort:
		return "too_short"
	case ErrUnknownTag:
		return "unknown_tag"
	case ErrArityMismatch:
		return "arity_mismatch"
	default:
		return "other"
	}
}

// Codec encodes and decodes messages for one protocol version.
type Codec struct {
	padArity int
}

// NewCodec creates a codec expecting padArity pad words per InputFrame.
// A non-positive arity selects DefaultPadArity.
func NewCodec(padArity int) *Codec {
	if padArity <= 0 {
		padArity = DefaultPadArity
	}
	return &Codec{padArity: padArity}
}

// PadArity returns the number of pad words expected per InputFrame.
func (c *Codec) PadArity() int {
	return c.padArity
}

// Encode serializes a message. The encoder writes exactly the pads present on an
// InputFrame; mismatched arity is reported by the receiving side. Encode panics if m is
// nil or a Message type defined outside this package, and may panic on a nil pointer.
func (c *Codec) Encode(m Message) []byte {
	switch msg := m.(type) {
	case *InputFrame:
		buf := make([]byte, InputFrameHeaderSize+PadSize*len(msg.Pads))
		buf[0] = TagInputFrame
		binary.BigEndian.PutUint32(buf[1:5], uint32(msg.Frame))
		buf[5] = msg.PlayerIndex
		for i, pad := range msg.Pads {
			off := InputFrameHeaderSize + i*PadSize
			binary.BigEndian.PutUint64(buf[off:off+PadSize], pad)
		}
		return buf

	case *InputAck:
		buf := make([]byte, InputAckSize)
		buf[0] = TagInputAck
		binary.BigEndian.PutUint32(buf[1:5], uint32(msg.Frame))
		buf[5] = msg.PlayerIndex
		return buf

	case *PlayerSelections:
		buf := make([]byte, PlayerSelectionsSize)
		buf[0] = TagPlayerSelections
		buf[1] = msg.CharacterID
		buf[2] = msg.CharacterColor
		buf[3] = msg.CharacterSelected
		buf[4] = msg.PlayerIndex
		binary.BigEndian.PutUint16(buf[5:7], msg.StageID)
		buf[7] = msg.StageSelected
		binary.BigEndian.PutUint32(buf[8:12], msg.RNGOffset)
		buf[12] = msg.TeamID
		return buf

	case *ConnectionSelected:
		return []byte{TagConnectionSelected}

	case *ChatMessage:
		buf := make([]byte, ChatMessageSize)
		buf[0] = TagChatMessage
		binary.BigEndian.PutUint32(buf[1:5], msg.MessageCode)
		buf[5] = msg.PlayerIndex
		return buf

	default:
		panic(fmt.Sprintf("protocol: cannot encode %T", m))
	}
}

// Decode parses one message. It never panics on arbitrary input; every failure is a
// *DecodeError. Bytes following a fixed-size message are ignored.
func (c *Codec) Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: ErrTooShort}
	}

	tag := data[0]
	switch tag {
	case TagInputFrame:
		want := InputFrameHeaderSize + PadSize*c.padArity
		if len(data) < InputFrameHeaderSize {
			return nil, &DecodeError{Err: ErrTooShort, Tag: tag, Len: len(data), Want: want}
		}
		if len(data) != want {
			return nil, &DecodeError{Err: ErrArityMismatch, Tag: tag, Len: len(data), Want: want}
		}
		msg := &InputFrame{
			Frame:       int32(binary.BigEndian.Uint32(data[1:5])),
			PlayerIndex: data[5],
			Pads:        make([]uint64, c.padArity),
		}
		for i := range msg.Pads {
			off := InputFrameHeaderSize + i*PadSize
			msg.Pads[i] = binary.BigEndian.Uint64(data[off : off+PadSize])
		}
		return msg, nil

	case TagInputAck:
		if len(data) < InputAckSize {
			return nil, &DecodeError{Err: ErrTooShort, Tag: tag, Len: len(data), Want: InputAckSize}
		}
		return &InputAck{
			Frame:       int32(binary.BigEndian.Uint32(data[1:5])),
			PlayerIndex: data[5],
		}, nil

	case TagPlayerSelections:
		if len(data) < PlayerSelectionsSize {
			return nil, &DecodeError{Err: ErrTooShort, Tag: tag, Len: len(data), Want: PlayerSelectionsSize}
		}
		return &PlayerSelections{
			CharacterID:       data[1],
			CharacterColor:    data[2],
			CharacterSelected: data[3],
			PlayerIndex:       data[4],
			StageID:           binary.BigEndian.Uint16(data[5:7]),
			StageSelected:     data[7],
			RNGOffset:         binary.BigEndian.Uint32(data[8:12]),
			TeamID:            data[12],
		}, nil

	case TagConnectionSelected:
		return &ConnectionSelected{}, nil

	case TagChatMessage:
		if len(data) < ChatMessageSize {
			return nil, &DecodeError{Err: ErrTooShort, Tag: tag, Len: len(data), Want: ChatMessageSize}
		}
		return &ChatMessage{
			MessageCode: binary.BigEndian.Uint32(data[1:5]),
			PlayerIndex: data[5],
		}, nil

	default:
		return nil, &DecodeError{Err: ErrUnknownTag, Tag: tag, Len: len(data)}
	}
}

// Summary renders a message on one line for logs and events.
func Summary(m Message) string {
	switch msg := m.(type) {
	case *InputFrame:
		return fmt.Sprintf("INPUT_FRAME frame=%d player=%d pads=%016x", msg.Frame, msg.PlayerIndex, msg.Pads)
	case *InputAck:
		return fmt.Sprintf("INPUT_ACK frame=%d player=%d", msg.Frame, msg.PlayerIndex)
	case *PlayerSelections:
		return fmt.Sprintf("PLAYER_SELECTIONS char=%d color=%d selected=%d player=%d stage=%d stage_selected=%d rng=0x%08x team=%d",
			msg.CharacterID, msg.CharacterColor, msg.CharacterSelected, msg.PlayerIndex,
			msg.StageID, msg.StageSelected, msg.RNGOffset, msg.TeamID)
	case *ConnectionSelected:
		return "CONNECTION_SELECTED"
	case *ChatMessage:
		return fmt.Sprintf("CHAT_MESSAGE code=%d player=%d", msg.MessageCode, msg.PlayerIndex)
	default:
		return fmt.Sprintf("%T", m)
	}
}
