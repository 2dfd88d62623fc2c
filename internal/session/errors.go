package session

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by the typed errors below.
var (
	ErrRelayUnreachable     = errors.New("relay did not accept the connection")
	ErrRelayDisconnected    = errors.New("relay disconnected")
	ErrTicketTimeout        = errors.New("no ticket before timeout")
	ErrOpponentUnreachable  = errors.New("opponent connection failed")
	ErrOpponentDisconnected = errors.New("opponent disconnected")
)

// ConfigError reports invalid or missing configuration. It is returned before any
// network activity.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RelayError reports a failure of the matchmaking exchange.
type RelayError struct {
	Op  string
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// TransportError reports a failure of the direct opponent connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
