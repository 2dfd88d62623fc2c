package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Datagram kinds.
const (
	kindData       byte = 0x00 // Application payload
	kindConnect    byte = 0x01 // Open a connection
	kindConnectAck byte = 0x02 // Accept a connection
	kindPing       byte = 0x03 // Keepalive probe
	kindPong       byte = 0x04 // Keepalive response
	kindDisconnect byte = 0x05 // Close a connection
	kindAck        byte = 0x06 // Acknowledges a reliable payload
)

// Header flags.
const (
	flagReliable byte = 0x01
)

// HeaderSize is kind(1) + flags(1) + sequence(4).
const HeaderSize = 6

var errShortDatagram = errors.New("datagram shorter than header")

type header struct {
	kind  byte
	flags byte
	seq   uint32
}

func (h header) reliable() bool {
	return h.flags&flagReliable != 0
}

func encodeDatagram(h header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = h.kind
	buf[1] = h.flags
	binary.BigEndian.PutUint32(buf[2:6], h.seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

func decodeDatagram(b []byte) (header, []byte, error) {
	if len(b) < HeaderSize {
		return header{}, nil, errShortDatagram
	}
	h := header{
		kind:  b[0],
		flags: b[1],
		seq:   binary.BigEndian.Uint32(b[2:6]),
	}
	return h, b[HeaderSize:], nil
}

func kindName(k byte) string {
	switch k {
	case kindData:
		return "DATA"
	case kindConnect:
		return "CONNECT"
	case kindConnectAck:
		return "CONNECT_ACK"
	case kindPing:
		return "PING"
	case kindPong:
		return "PONG"
	case kindDisconnect:
		return "DISCONNECT"
	case kindAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", k)
	}
}

// Datagram is the decoded header and payload of one datagram.
type Datagram struct {
	Kind     string
	Reliable bool
	Seq      uint32
	Payload  []byte // application payload of DATA datagrams
}

// ParseDatagram decodes a raw datagram, such as one read back from a capture.
func ParseDatagram(b []byte) (Datagram, error) {
	h, payload, err := decodeDatagram(b)
	if err != nil {
		return Datagram{}, err
	}
	d := Datagram{Kind: kindName(h.kind), Reliable: h.reliable(), Seq: h.seq}
	if h.kind == kindData {
		d.Payload = payload
	}
	return d, nil
}

// FrameData wraps payload in a DATA header. Hosts that do not own their wire format
// use it to tap payloads in the same shape a capture expects.
func FrameData(payload []byte, reliable bool, seq uint32) []byte {
	h := header{kind: kindData, seq: seq}
	if reliable {
		h.flags = flagReliable
	}
	return encodeDatagram(h, payload)
}
