package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const ctrlC = 0x03

// interactive reports whether stdin is a terminal the key reader can use.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// keyHandler maps single key presses to simulator controls. Output goes to a raw-mode
// terminal, so lines end in \r\n.
type keyHandler struct {
	sim *Sim
	lat *Latency
	out io.Writer
}

// handle applies one key and reports whether the user asked to quit.
func (h keyHandler) handle(k byte) (quit bool) {
	switch k {
	case '+', '=':
		fmt.Fprintf(h.out, "\r\nack latency base: %s\r\n", h.lat.Increase())
	case '-':
		fmt.Fprintf(h.out, "\r\nack latency base: %s\r\n", h.lat.Decrease())
	case 's':
		st := h.sim.Stats()
		fmt.Fprintf(h.out, "\r\nframes sent=%d acks=%d bad=%d fuzzer frames=%d rejected chats=%d\r\n",
			st.FramesSent, st.AcksReceived, st.BadAcks, st.FuzzerFrames, st.RejectedChats)
	case 'q', ctrlC:
		fmt.Fprint(h.out, "\r\nstopping simulator\r\n")
		return true
	}
	return false
}

// readKeys puts stdin into raw mode and feeds key presses to a keyHandler until ctx is
// done or the user quits.
func readKeys(ctx context.Context, sim *Sim, lat *Latency, logger *log.Entry, cancel context.CancelFunc) {
	fd := int(os.Stdin.Fd())
	saved, err := term.MakeRaw(fd)
	if err != nil {
		logger.WithError(err).Warn("Failed to set raw terminal mode")
		return
	}
	defer term.Restore(fd, saved) //nolint:errcheck

	keys := make(chan byte, 1)
	go pumpKeys(os.Stdin, keys)

	h := keyHandler{sim: sim, lat: lat, out: os.Stderr}
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-keys:
			if !ok {
				return
			}
			if h.handle(k) {
				cancel()
				return
			}
		}
	}
}

// pumpKeys copies bytes from r to keys one at a time and closes keys at EOF.
func pumpKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	var buf [1]byte
	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			keys <- buf[0]
		}
		if err != nil {
			return
		}
	}
}
