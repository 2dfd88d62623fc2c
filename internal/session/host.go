package session

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// Host is the connection host a session drives. *transport.Host implements it.
type Host interface {
	Connect(addr string) (*transport.Peer, error)
	Send(p *transport.Peer, data []byte, reliable bool) error
	Service(timeout time.Duration) (transport.Event, error)
	Disconnect(p *transport.Peer) error
	Close() error
}

// HostFactory opens a host bound to localPort. Port 0 means any port.
type HostFactory func(localPort uint16) (Host, error)

// TransportHosts returns a factory opening real UDP hosts.
func TransportHosts(logger *log.Logger, tap transport.TapFunc) HostFactory {
	return func(localPort uint16) (Host, error) {
		h, err := transport.Listen(transport.Config{
			LocalPort: localPort,
			Logger:    logger,
			Tap:       tap,
		})
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// Clock supplies the time used for frame pacing and timeouts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var _ Host = (*transport.Host)(nil)
