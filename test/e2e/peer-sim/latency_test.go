package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatency_DelayWithinJitter(t *testing.T) {
	l := NewLatency(20*time.Millisecond, 5*time.Millisecond, time.Millisecond, 1)
	for i := 0; i < 1000; i++ {
		d := l.Delay()
		assert.GreaterOrEqual(t, d, 15*time.Millisecond)
		assert.LessOrEqual(t, d, 25*time.Millisecond)
	}
}

func TestLatency_NeverNegative(t *testing.T) {
	l := NewLatency(0, 10*time.Millisecond, time.Millisecond, 2)
	for i := 0; i < 1000; i++ {
		assert.GreaterOrEqual(t, l.Delay(), time.Duration(0))
	}
}

func TestLatency_Deterministic(t *testing.T) {
	a := NewLatency(10*time.Millisecond, 10*time.Millisecond, 0, 7)
	b := NewLatency(10*time.Millisecond, 10*time.Millisecond, 0, 7)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Delay(), b.Delay())
	}
}

func TestLatency_Adjust(t *testing.T) {
	l := NewLatency(5*time.Millisecond, 0, 5*time.Millisecond, 1)
	assert.Equal(t, 10*time.Millisecond, l.Increase())
	assert.Equal(t, 10*time.Millisecond, l.Delay())
	assert.Equal(t, 5*time.Millisecond, l.Decrease())
	assert.Equal(t, time.Duration(0), l.Decrease())
	assert.Equal(t, time.Duration(0), l.Decrease())
	assert.Equal(t, "base=0s jitter=±0s step=5ms", l.String())
}
