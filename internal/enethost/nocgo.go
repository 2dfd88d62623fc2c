//go:build !cgo

package enethost

import (
	"time"

	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// Host is unavailable without cgo.
type Host struct{}

// Listen always fails with ErrUnavailable.
func Listen(Config) (*Host, error) {
	return nil, ErrUnavailable
}

func (*Host) Connect(string) (*transport.Peer, error) { return nil, ErrUnavailable }
func (*Host) Send(*transport.Peer, []byte, bool) error { return ErrUnavailable }
func (*Host) Service(time.Duration) (transport.Event, error) { return transport.Event{}, ErrUnavailable }
func (*Host) Disconnect(*transport.Peer) error { return ErrUnavailable }
func (*Host) Close() error { return nil }
