//go:build integration
// +build integration

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises a sustained 60 Hz exchange with reliable delivery in both directions.
func TestIntegration_SustainedExchange(t *testing.T) {
	a, b, ab, ba := connectPair(t)

	const frames = 300
	received := 0
	sent := 0
	deadline := time.Now().Add(10 * time.Second)

	for received < frames && time.Now().Before(deadline) {
		if sent < frames {
			require.NoError(t, a.Send(ab, []byte{0x80, byte(sent)}, true))
			sent++
		}
		ev, err := b.Service(time.Second / 60)
		require.NoError(t, err)
		if ev.Type == EventReceive {
			received++
			require.NoError(t, b.Send(ba, []byte{0x81, ev.Data[1]}, true))
		}
		_, err = a.Service(time.Millisecond)
		require.NoError(t, err)
	}

	assert.Equal(t, frames, received)
}

func TestIntegration_KeepaliveHoldsIdleLink(t *testing.T) {
	a, b, ab, _ := connectPair(t)

	end := time.Now().Add(3 * KeepaliveInterval)
	for time.Now().Before(end) {
		evA, err := a.Service(10 * time.Millisecond)
		require.NoError(t, err)
		evB, err := b.Service(10 * time.Millisecond)
		require.NoError(t, err)
		require.NotEqual(t, EventDisconnect, evA.Type)
		require.NotEqual(t, EventDisconnect, evB.Type)
	}
	assert.NoError(t, a.Send(ab, []byte{0x84}, false))
}
