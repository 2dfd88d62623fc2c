package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHandler(t *testing.T) {
	sim, err := NewSim(SimConfig{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = sim.Run(ctx) // closes both hosts
	})

	var out bytes.Buffer
	lat := NewLatency(10*time.Millisecond, 0, 5*time.Millisecond, 1)
	h := keyHandler{sim: sim, lat: lat, out: &out}

	assert.False(t, h.handle('+'))
	assert.False(t, h.handle('='))
	assert.Contains(t, out.String(), "ack latency base: 20ms")

	assert.False(t, h.handle('-'))
	assert.Contains(t, out.String(), "ack latency base: 15ms")

	assert.False(t, h.handle('s'))
	assert.Contains(t, out.String(), "frames sent=0")

	assert.False(t, h.handle('x'))
	assert.True(t, h.handle('q'))
	assert.True(t, h.handle(ctrlC))
}

func TestPumpKeys(t *testing.T) {
	keys := make(chan byte, 8)
	pumpKeys(strings.NewReader("+-q"), keys)

	var got []byte
	for k := range keys {
		got = append(got, k)
	}
	assert.Equal(t, []byte("+-q"), got)
}
