package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipfuzz/slipfuzz/internal/fuzz"
	"github.com/slipfuzz/slipfuzz/internal/session"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfig_SaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cfg := &Config{}
	cfg.RememberRun(-42, "ABCD#123", at)
	require.NoError(t, cfg.SaveTo(configPath))

	_, err := os.Stat(configPath)
	require.NoError(t, err, "config file was not created")

	loaded, err := LoadFrom(configPath)
	require.NoError(t, err)

	run, ok := loaded.LastRun()
	assert.True(t, ok)
	assert.Equal(t, int64(-42), run.Seed)
	assert.Equal(t, "ABCD#123", run.Opponent)
	assert.True(t, at.Equal(run.At))

	entries, err := os.ReadDir(filepath.Dir(configPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestConfig_LoadNonExistent(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)

	_, ok := cfg.LastRun()
	assert.False(t, ok)
}

func TestConfig_LoadInvalidJSON(t *testing.T) {
	path := writeFile(t, "config.json", "{invalid json}")
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestConfig_ZeroSeedIsRemembered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{}
	cfg.RememberRun(0, "X#1", time.Now())
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	run, ok := loaded.LastRun()
	assert.True(t, ok)
	assert.Zero(t, run.Seed)
}

func TestConfig_HistoryIsBounded(t *testing.T) {
	cfg := &Config{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxHistory+5; i++ {
		cfg.RememberRun(int64(i), "OPP#1", base.Add(time.Duration(i)*time.Minute))
	}

	require.Len(t, cfg.Runs, MaxHistory)
	assert.Equal(t, int64(MaxHistory+4), cfg.Runs[0].Seed, "newest first")
	assert.Equal(t, int64(5), cfg.Runs[MaxHistory-1].Seed)
}

func TestConfig_OverwritesExisting(t *testing.T) {
	path := writeFile(t, "config.json", `{"runs":[{"seed":1,"opponent":"OLD#1"}]}`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	cfg.RememberRun(2, "NEW#2", time.Now())
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	require.Len(t, loaded.Runs, 2)
	assert.Equal(t, "NEW#2", loaded.Runs[0].Opponent)
	assert.Equal(t, "OLD#1", loaded.Runs[1].Opponent)
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "config.json", filepath.Base(path))
	assert.Equal(t, ".slipfuzz", filepath.Base(filepath.Dir(path)))
}

func TestLoadCredentials(t *testing.T) {
	path := writeFile(t, "user.json", `{"uid":"u1","playKey":"pk","connectCode":"ME#1","displayName":"me","latestVersion":"3.0.0"}`)

	c, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, &Credentials{UID: "u1", PlayKey: "pk", ConnectCode: "ME#1", DisplayName: "me"}, c)
}

func TestLoadCredentials_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"malformed", "{not json", "user file"},
		{"missing uid", `{"playKey":"pk"}`, "uid"},
		{"missing play key", `{"uid":"u1"}`, "playKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCredentials(writeFile(t, "user.json", tt.content))
			var ce *session.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCredentials(filepath.Join(t.TempDir(), "user.json"))
		var ce *session.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, err.Error(), "does not exist")
	})
}

func TestLoadProfile_Defaults(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile(), p)

	opts, err := p.Options()
	require.NoError(t, err)
	assert.Equal(t, session.DefaultOptions(), opts)
}

func TestLoadProfile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "p.json", `{"burst_count": 10, "game_poll_interval": "2ms", "chat_mode": "random", "first_frame": -10, "frame_limit": 600}`},
		{"yaml", "p.yaml", "burst_count: 10\ngame_poll_interval: 2ms\nchat_mode: random\nfirst_frame: -10\nframe_limit: 600\n"},
		{"yml", "p.yml", "burst_count: 10\ngame_poll_interval: 2ms\nchat_mode: random\nfirst_frame: -10\nframe_limit: 600\n"},
		{"toml", "p.toml", "burst_count = 10\ngame_poll_interval = \"2ms\"\nchat_mode = \"random\"\nfirst_frame = -10\nframe_limit = 600\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadProfile(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			opts, err := p.Options()
			require.NoError(t, err)
			assert.Equal(t, 10, opts.BurstCount)
			assert.Equal(t, 2*time.Millisecond, opts.GamePollInterval)
			assert.Equal(t, fuzz.RandomizeAllFields, opts.ChatMode)
			assert.Equal(t, int32(-10), opts.FirstFrame)
			assert.Equal(t, 600, opts.FrameLimit)

			// Untouched keys keep their defaults.
			assert.Equal(t, session.DefaultBurstPollInterval, opts.BurstPollInterval)
			assert.Equal(t, fuzz.Scripted, opts.PadMode)
			assert.Equal(t, "mm.slippi.gg:43113", opts.RelayAddress)
		})
	}
}

func TestLoadProfile_Errors(t *testing.T) {
	_, err := LoadProfile(writeFile(t, "p.ini", "x=1"))
	var ce *session.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "unsupported profile format")

	_, err = LoadProfile(writeFile(t, "p.json", `{"pad_mode": "chaotic"}`))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "pad_mode", ce.Field)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorAs(t, err, &ce)
}
