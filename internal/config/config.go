// Package config loads credentials and fuzz profiles and keeps the persistent run state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// MaxHistory is how many past runs the state file keeps.
const MaxHistory = 20

// Run is one remembered fuzz run.
type Run struct {
	Seed     int64     `json:"seed"`
	Opponent string    `json:"opponent"`
	At       time.Time `json:"at"`
}

// Config is the state kept between runs, newest run first.
type Config struct {
	Runs []Run `json:"runs,omitempty"`
}

// DefaultConfigDir returns ~/.slipfuzz (%USERPROFILE%\.slipfuzz on Windows).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".slipfuzz"), nil
}

// DefaultConfigPath returns the state file inside DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the state file at DefaultConfigPath.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a state file. A missing file is an empty state.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the state to DefaultConfigPath.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the state to path through a temporary file, so an interrupted run never
// leaves a truncated file behind.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// RememberRun records a run at the head of the history, dropping the oldest entries
// beyond MaxHistory.
func (c *Config) RememberRun(seed int64, opponent string, at time.Time) {
	c.Runs = append([]Run{{Seed: seed, Opponent: opponent, At: at.UTC()}}, c.Runs...)
	if len(c.Runs) > MaxHistory {
		c.Runs = c.Runs[:MaxHistory]
	}
}

// LastRun returns the most recent run. ok is false if none was saved.
func (c *Config) LastRun() (run Run, ok bool) {
	if len(c.Runs) == 0 {
		return Run{}, false
	}
	return c.Runs[0], true
}
