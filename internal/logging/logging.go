// Package logging configures the leveled logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// TimestampFormat is used for every log line.
const TimestampFormat = "2006-01-02 15:04:05"

// New creates a logger writing to w at the given level.
// Colour output is enabled only when w is a terminal.
func New(level log.Level, w io.Writer) *log.Logger {
	logger := log.New()
	logger.SetLevel(level)
	SetOutput(logger, w)
	return logger
}

// SetOutput redirects the logger and re-evaluates colour support for the new writer.
func SetOutput(logger *log.Logger, w io.Writer) {
	color := isTTY(w)
	logger.SetOutput(w)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
		ForceColors:     color,
		DisableColors:   !color,
	})
}

// Component returns an entry tagged with the component name.
func Component(logger *log.Logger, name string) *log.Entry {
	return logger.WithField("component", name)
}

// ParseLevel parses a level name.
// Valid values: error, warn, info, debug, trace (case-insensitive).
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return log.ErrorLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "trace":
		return log.TraceLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("invalid log level %q: must be error, warn, info, debug, or trace", s)
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(log.PanicLevel)
	return logger
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
