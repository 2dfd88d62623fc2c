package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec_DefaultArity(t *testing.T) {
	assert.Equal(t, DefaultPadArity, NewCodec(0).PadArity())
	assert.Equal(t, DefaultPadArity, NewCodec(-3).PadArity())
	assert.Equal(t, 4, NewCodec(4).PadArity())
}

func TestRoundtrip_AllKinds(t *testing.T) {
	codec := NewCodec(1)

	tests := []struct {
		name string
		msg  Message
		size int
	}{
		{"input frame", &InputFrame{Frame: 42, PlayerIndex: 1, Pads: []uint64{0x0102030405060708}}, 14},
		{"input frame countdown", &InputFrame{Frame: -123, PlayerIndex: 0, Pads: []uint64{0}}, 14},
		{"input frame extremes", &InputFrame{Frame: math.MinInt32, PlayerIndex: 255, Pads: []uint64{math.MaxUint64}}, 14},
		{"input ack", &InputAck{Frame: -1, PlayerIndex: 3}, InputAckSize},
		{"input ack max", &InputAck{Frame: math.MaxInt32, PlayerIndex: 255}, InputAckSize},
		{"selections", &PlayerSelections{
			CharacterID: 7, CharacterColor: 0, CharacterSelected: 1, PlayerIndex: 0,
			StageID: 3, StageSelected: 1, RNGOffset: 0x12345678, TeamID: 0,
		}, PlayerSelectionsSize},
		{"selections max", &PlayerSelections{
			CharacterID: 255, CharacterColor: 255, CharacterSelected: 255, PlayerIndex: 255,
			StageID: math.MaxUint16, StageSelected: 255, RNGOffset: math.MaxUint32, TeamID: 255,
		}, PlayerSelectionsSize},
		{"connection selected", &ConnectionSelected{}, ConnectionSelectedSize},
		{"chat", &ChatMessage{MessageCode: 136, PlayerIndex: 2}, ChatMessageSize},
		{"chat out of domain", &ChatMessage{MessageCode: math.MaxUint32, PlayerIndex: 255}, ChatMessageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := codec.Encode(tt.msg)
			require.Len(t, encoded, tt.size)
			assert.Equal(t, byte(tt.msg.Kind()), encoded[0], "first byte must be the tag")

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestRoundtrip_MultiPadArity(t *testing.T) {
	codec := NewCodec(4)
	msg := &InputFrame{Frame: 10, PlayerIndex: 1, Pads: []uint64{1, 2, 3, 4}}

	encoded := codec.Encode(msg)
	require.Len(t, encoded, InputFrameHeaderSize+4*PadSize)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestEncode_BigEndianLayout(t *testing.T) {
	codec := NewCodec(1)

	frame := codec.Encode(&InputFrame{Frame: -2, PlayerIndex: 1, Pads: []uint64{0x1122334455667788}})
	assert.Equal(t, []byte{0x80, 0xFF, 0xFF, 0xFF, 0xFE, 0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, frame)

	sel := codec.Encode(&PlayerSelections{
		CharacterID: 1, CharacterColor: 2, CharacterSelected: 3, PlayerIndex: 4,
		StageID: 0x0506, StageSelected: 7, RNGOffset: 0x08090A0B, TeamID: 12,
	})
	assert.Equal(t, []byte{0x82, 1, 2, 3, 4, 0x05, 0x06, 7, 0x08, 0x09, 0x0A, 0x0B, 12}, sel)
}

type foreignMessage struct{}

func (foreignMessage) Kind() Kind { return KindChatMessage }

func TestEncode_PanicsOnProgrammerError(t *testing.T) {
	c := NewCodec(DefaultPadArity)
	assert.PanicsWithValue(t, "protocol: cannot encode protocol.foreignMessage", func() {
		c.Encode(foreignMessage{})
	})
	assert.Panics(t, func() { c.Encode((*InputFrame)(nil)) })
	assert.Panics(t, func() { c.Encode(nil) })
}

func TestDecode_ChatScenario(t *testing.T) {
	codec := NewCodec(1)

	msg, err := codec.Decode([]byte{0x84, 0x00, 0x00, 0x00, 0x88, 0x02})
	require.NoError(t, err)
	assert.Equal(t, &ChatMessage{MessageCode: 136, PlayerIndex: 2}, msg)
}

func TestDecode_EmptyMessage(t *testing.T) {
	codec := NewCodec(1)

	_, err := codec.Decode([]byte{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = codec.Decode(nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestDecode_UnknownTag(t *testing.T) {
	codec := NewCodec(1)

	for _, tag := range []byte{0x00, 0x7F, 0x85, 0xFF} {
		_, err := codec.Decode([]byte{tag, 1, 2, 3})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownTag)

		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, tag, decErr.Tag)
		assert.Equal(t, "unknown_tag", decErr.Reason())
	}
}

func TestDecode_TooShort(t *testing.T) {
	codec := NewCodec(1)

	tests := []struct {
		name string
		data []byte
	}{
		{"frame header only tag", []byte{TagInputFrame}},
		{"frame partial header", []byte{TagInputFrame, 0, 0, 0, 1}},
		{"ack", []byte{TagInputAck, 0, 0, 0, 1}},
		{"selections", []byte{TagPlayerSelections, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{"chat", []byte{TagChatMessage, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			assert.ErrorIs(t, err, ErrTooShort)
		})
	}
}

func TestDecode_ArityMismatch(t *testing.T) {
	codec := NewCodec(1)

	// Header complete, no pads.
	_, err := codec.Decode([]byte{TagInputFrame, 0, 0, 0, 1, 0})
	assert.ErrorIs(t, err, ErrArityMismatch)

	// Partial pad.
	_, err = codec.Decode([]byte{TagInputFrame, 0, 0, 0, 1, 0, 1, 2, 3})
	assert.ErrorIs(t, err, ErrArityMismatch)

	// Two pads where one is expected.
	two := NewCodec(2).Encode(&InputFrame{Frame: 1, Pads: []uint64{1, 2}})
	_, err = codec.Decode(two)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArityMismatch)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, InputFrameHeaderSize+PadSize, decErr.Want)
	assert.Equal(t, len(two), decErr.Len)
	assert.Contains(t, decErr.Error(), "INPUT_FRAME")
}

func TestDecode_TrailingBytesIgnored(t *testing.T) {
	codec := NewCodec(1)

	msg, err := codec.Decode([]byte{TagConnectionSelected, 0xAA, 0xBB})
	require.NoError(t, err)
	assert.IsType(t, &ConnectionSelected{}, msg)

	msg, err = codec.Decode([]byte{TagChatMessage, 0, 0, 0, 17, 1, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, &ChatMessage{MessageCode: 17, PlayerIndex: 1}, msg)
}

func TestKindName_AllKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInputFrame, "INPUT_FRAME"},
		{KindInputAck, "INPUT_ACK"},
		{KindPlayerSelections, "PLAYER_SELECTIONS"},
		{KindConnectionSelected, "CONNECTION_SELECTED"},
		{KindChatMessage, "CHAT_MESSAGE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
	assert.Equal(t, "UNKNOWN(0x42)", KindName(0x42))
}

func TestChatCodes(t *testing.T) {
	seen := make(map[uint32]bool)
	for _, code := range ChatCodes {
		assert.False(t, seen[code], "duplicate chat code %d", code)
		seen[code] = true
		assert.True(t, IsAcceptedChatCode(code))
	}
	assert.Len(t, seen, 16)
	assert.False(t, IsAcceptedChatCode(0))
	assert.False(t, IsAcceptedChatCode(137))
}

func TestPad_PackUnpack(t *testing.T) {
	p := Pad{Buttons: 0x0102, StickX: 0x03, StickY: 0x04, CStickX: 0x05, CStickY: 0x06, AnalogL: 0x07, AnalogR: 0x08}
	assert.Equal(t, uint64(0x0102030405060708), p.Pack())
	assert.Equal(t, p, UnpackPad(p.Pack()))

	neutral := NeutralPad()
	assert.Equal(t, uint64(0x0000808080800000), neutral.Pack())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "CHAT_MESSAGE code=136 player=2", Summary(&ChatMessage{MessageCode: 136, PlayerIndex: 2}))
	assert.Equal(t, "INPUT_ACK frame=-5 player=1", Summary(&InputAck{Frame: -5, PlayerIndex: 1}))
	assert.Contains(t, Summary(&InputFrame{Frame: 3, Pads: []uint64{1}}), "frame=3")
	assert.Contains(t, Summary(&PlayerSelections{RNGOffset: 0x12345678}), "rng=0x12345678")
}
