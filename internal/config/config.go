// Package config loads the draftkeep configuration object.
//
// Values come from, in order of precedence: environment variables
// (DRAFTKEEP_*), an optional YAML file, and built-in defaults. The merged
// result is validated against a CUE schema before use. There is no global
// configuration; callers pass the *Config to whatever needs it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DRAFTKEEP_"

// Config is the full set of tunables.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database" env:"DB"`

	// QuotaBytes caps the bytes the store may hold. 0 means unlimited.
	QuotaBytes int64 `yaml:"quota_bytes" env:"QUOTA_BYTES"`

	// ChannelDir is the shared directory used to signal other sessions.
	ChannelDir string `yaml:"channel_dir" env:"CHANNEL_DIR"`

	// ChannelTTL is how long message files are kept in ChannelDir.
	ChannelTTL time.Duration `yaml:"channel_ttl" env:"CHANNEL_TTL"`

	// Debounce is the autosave settle window.
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`

	// DraftMaxAge is the age beyond which quota remediation may evict a
	// draft.
	DraftMaxAge time.Duration `yaml:"draft_max_age" env:"DRAFT_MAX_AGE"`

	// HistoryLimit is the number of undo steps kept per session.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`

	// HistoryCoalesce merges edits closer together than this into one
	// undo step. 0 disables coalescing.
	HistoryCoalesce time.Duration `yaml:"history_coalesce" env:"HISTORY_COALESCE"`

	// VolatileFields are excluded from document fingerprints.
	VolatileFields []string `yaml:"volatile_fields" env:"VOLATILE_FIELDS" envSeparator:","`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database:        "draftkeep.db",
		QuotaBytes:      5 << 20,
		ChannelDir:      ".draftkeep/channel",
		ChannelTTL:      time.Minute,
		Debounce:        2 * time.Second,
		DraftMaxAge:     30 * 24 * time.Hour,
		HistoryLimit:    50,
		HistoryCoalesce: time.Second,
		VolatileFields:  []string{"updatedAt", "updated_at", "lastModified"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays the document read from r. Unknown keys are errors.
func (c *Config) decodeYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv overlays DRAFTKEEP_* variables that are set.
func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
