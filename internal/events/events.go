// Package events provides the structured event log of a fuzz session.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventSeed            EventType = "seed"
	EventPhaseChanged    EventType = "phase_changed"
	EventTicket          EventType = "ticket"
	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"
	EventDecodeError     EventType = "decode_error"
	EventError           EventType = "error"
)

// Envelope wraps every emitted event with type and timestamp.
type Envelope struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SeedData is the payload for seed events. It is emitted before the seed is used.
type SeedData struct {
	Seed    int64 `json:"seed"`
	Derived bool  `json:"derived"`
}

// PhaseChangedData is the payload for phase_changed events.
type PhaseChangedData struct {
	From     string `json:"from"`
	To       string `json:"to"`
	PeerAddr string `json:"peer_addr,omitempty"`
}

// TicketData is the payload for ticket events.
type TicketData struct {
	Opponent  string `json:"opponent"`
	LocalPort uint16 `json:"local_port"`
	Players   int    `json:"players"`
}

// MessageData is the payload for message_sent and message_received events.
type MessageData struct {
	Phase    string `json:"phase"`
	Kind     string `json:"kind"`
	Frame    *int32 `json:"frame,omitempty"`
	Summary  string `json:"summary"`
	Bytes    string `json:"bytes"` // hex
	Reliable bool   `json:"reliable,omitempty"`
}

// DecodeErrorData is the payload for decode_error events.
type DecodeErrorData struct {
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
	Bytes  string `json:"bytes"` // hex
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// Emitter is the interface for emitting structured events.
type Emitter interface {
	Emit(eventType EventType, data interface{})
	Close() error
}
