package events

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// LineWriter encodes each event as one JSON object per line. Emit may be called from
// several goroutines.
type LineWriter struct {
	mu    sync.Mutex
	out   io.Writer
	enc   *json.Encoder
	owned io.Closer
	now   func() time.Time
}

// NewLineWriter returns a writer over w. If w is also an io.Closer, Close closes it.
func NewLineWriter(w io.Writer) *LineWriter {
	lw := newLineWriter(w)
	if c, ok := w.(io.Closer); ok {
		lw.owned = c
	}
	return lw
}

func newLineWriter(w io.Writer) *LineWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LineWriter{out: w, enc: enc, now: time.Now}
}

// Emit stamps and writes one event. Write errors are ignored so a full disk cannot stall
// the session loop.
func (l *LineWriter) Emit(eventType EventType, data interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(Envelope{Type: eventType, Timestamp: l.now(), Data: data})
}

// Close releases the destination when the writer owns it.
func (l *LineWriter) Close() error {
	if l.owned == nil {
		return nil
	}
	return l.owned.Close()
}

// Open returns an emitter for an --events-output value: a comma-separated list of
// destinations, each of which is written in full. "" discards events, "stdout" and
// "stderr" write to the process streams without ever closing them, and any other value
// is a file opened for append.
func Open(output string) (Emitter, error) {
	var tee Tee
	for _, dest := range strings.Split(output, ",") {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		e, err := openOne(dest)
		if err != nil {
			_ = tee.Close()
			return nil, err
		}
		tee = append(tee, e)
	}

	switch len(tee) {
	case 0:
		return Discard{}, nil
	case 1:
		return tee[0], nil
	}
	return tee, nil
}

func openOne(dest string) (Emitter, error) {
	switch dest {
	case "stdout":
		return newLineWriter(os.Stdout), nil
	case "stderr":
		return newLineWriter(os.Stderr), nil
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events output %q: %w", dest, err)
	}
	return NewLineWriter(f), nil
}
