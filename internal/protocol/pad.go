package protocol

// Stick positions.
const (
	StickLeft    uint8 = 0x00
	StickNeutral uint8 = 0x80
	StickRight   uint8 = 0xFF
)

// Pad is the structured view of one 64-bit pad word.
// Layout, most significant first: buttons(16) stickX stickY cStickX cStickY analogL analogR.
type Pad struct {
	Buttons uint16
	StickX  uint8
	StickY  uint8
	CStickX uint8
	CStickY uint8
	AnalogL uint8
	AnalogR uint8
}

// NeutralPad returns a pad with no buttons held and both sticks centred.
func NeutralPad() Pad {
	return Pad{
		StickX:  StickNeutral,
		StickY:  StickNeutral,
		CStickX: StickNeutral,
		CStickY: StickNeutral,
	}
}

// Pack encodes the pad into its wire word.
func (p Pad) Pack() uint64 {
	return uint64(p.Buttons)<<48 |
		uint64(p.StickX)<<40 |
		uint64(p.StickY)<<32 |
		uint64(p.CStickX)<<24 |
		uint64(p.CStickY)<<16 |
		uint64(p.AnalogL)<<8 |
		uint64(p.AnalogR)
}

// UnpackPad decodes a wire word.
func UnpackPad(v uint64) Pad {
	return Pad{
		Buttons: uint16(v >> 48),
		StickX:  uint8(v >> 40),
		StickY:  uint8(v >> 32),
		CStickX: uint8(v >> 24),
		CStickY: uint8(v >> 16),
		AnalogL: uint8(v >> 8),
		AnalogR: uint8(v),
	}
}
