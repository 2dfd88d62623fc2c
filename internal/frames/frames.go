// Package frames tracks the local input-frame counter and reconciles acknowledgments.
package frames

import (
	"time"
)

// DefaultInterval approximates one rendered frame at 60 Hz.
const DefaultInterval = time.Second / 60

// Stats is a snapshot of tracker counters.
type Stats struct {
	Sent            uint64 // InputFrames emitted
	LastSent        int32  // last emitted frame number (valid when Sent > 0)
	PeerFrames      uint64 // InputFrames observed from the peer
	LastPeerFrame   int32  // last frame observed from the peer
	AcksReceived    uint64 // InputAcks received
	HighestAcked    int32  // highest frame acknowledged by the peer (valid when AcksReceived > 0)
	OutOfOrderAcks  uint64 // acks at or below a previously acked frame
	UnknownFrameAck uint64 // acks for frames never sent
}

// Tracker owns the frame counter of one session. It is not safe for concurrent use;
// the session drives it from a single control loop.
type Tracker struct {
	interval time.Duration
	first    int32
	next     int32
	unlocked bool
	lastSend time.Time

	stats Stats
}

// NewTracker creates a tracker whose first emitted frame is first.
func NewTracker(first int32, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		interval: interval,
		first:    first,
		next:     first,
	}
}

// Unlock opens the frame gate. It reports whether the gate was closed before.
func (t *Tracker) Unlock() bool {
	if t.unlocked {
		return false
	}
	t.unlocked = true
	return true
}

// Unlocked reports whether frames may be emitted.
func (t *Tracker) Unlocked() bool {
	return t.unlocked
}

// Due reports whether a frame should be emitted at now. Pacing compares wall-clock
// deltas, so it is advisory rather than hard real time.
func (t *Tracker) Due(now time.Time) bool {
	if !t.unlocked {
		return false
	}
	if t.lastSend.IsZero() {
		return true
	}
	return now.Sub(t.lastSend) > t.interval
}

// Next returns the frame number to emit and advances the counter by one.
func (t *Tracker) Next(now time.Time) int32 {
	frame := t.next
	t.next++
	t.lastSend = now
	t.stats.Sent++
	t.stats.LastSent = frame
	return frame
}

// Observe records a peer InputFrame and returns the frame number to acknowledge.
func (t *Tracker) Observe(frame int32) int32 {
	t.stats.PeerFrames++
	t.stats.LastPeerFrame = frame
	return frame
}

// Acknowledge records a peer InputAck. It reports whether the ack advanced the highest
// acknowledged frame.
func (t *Tracker) Acknowledge(frame int32) bool {
	if t.stats.Sent == 0 || frame < t.first || frame >= t.next {
		t.stats.UnknownFrameAck++
	}

	advanced := t.stats.AcksReceived == 0 || frame > t.stats.HighestAcked
	t.stats.AcksReceived++
	if advanced {
		t.stats.HighestAcked = frame
	} else {
		t.stats.OutOfOrderAcks++
	}
	return advanced
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}
