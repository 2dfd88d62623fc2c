package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Latency is the simulated one-way delay applied to the opponent's acknowledgments.
// It is adjusted from the keyboard while the sim runs, so access is locked.
type Latency struct {
	mu     sync.Mutex
	base   time.Duration
	jitter time.Duration
	step   time.Duration
	rng    *rand.Rand
}

// NewLatency creates a latency model. The seed only affects jitter.
func NewLatency(base, jitter, step time.Duration, seed int64) *Latency {
	return &Latency{
		base:   base,
		jitter: jitter,
		step:   step,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Delay returns base + uniform(-jitter, +jitter), never negative.
func (l *Latency) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.base
	if l.jitter > 0 {
		d += time.Duration(l.rng.Int63n(2*int64(l.jitter)+1)) - l.jitter
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Increase adds one step to the base latency.
func (l *Latency) Increase() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base += l.step
	return l.base
}

// Decrease removes one step from the base latency, stopping at zero.
func (l *Latency) Decrease() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base -= l.step
	if l.base < 0 {
		l.base = 0
	}
	return l.base
}

func (l *Latency) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("base=%s jitter=±%s step=%s", l.base, l.jitter, l.step)
}
