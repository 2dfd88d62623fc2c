package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	kfs "github.com/knadh/koanf/providers/fs"
	"github.com/knadh/koanf/v2"

	"github.com/slipfuzz/slipfuzz/internal/session"
)

// Credentials identify the local player to the relay. They are read from the user.json
// file the game client writes.
type Credentials struct {
	UID         string `koanf:"uid"`
	PlayKey     string `koanf:"playKey"`
	ConnectCode string `koanf:"connectCode"`
	DisplayName string `koanf:"displayName"`
}

// LoadCredentials reads a credentials file. A missing or malformed file, or one without
// uid and playKey, is a *session.ConfigError.
func LoadCredentials(path string) (*Credentials, error) {
	k, err := load(path, json.Parser())
	if err != nil {
		return nil, &session.ConfigError{Field: "user file", Err: err}
	}

	var c Credentials
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, &session.ConfigError{Field: "user file", Err: err}
	}
	if c.UID == "" {
		return nil, &session.ConfigError{Field: "uid", Err: fmt.Errorf("missing in %s", path)}
	}
	if c.PlayKey == "" {
		return nil, &session.ConfigError{Field: "playKey", Err: fmt.Errorf("missing in %s", path)}
	}
	return &c, nil
}

// load reads one file through koanf with the given parser.
func load(path string, p koanf.Parser) (*koanf.Koanf, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s does not exist", path)
		}
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(kfs.Provider(os.DirFS(filepath.Dir(abs)), filepath.Base(abs)), p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return k, nil
}

// parserFor picks a parser from the file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported profile format %q: must be .json, .yaml, .yml, or .toml", filepath.Ext(path))
	}
}
