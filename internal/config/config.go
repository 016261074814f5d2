// Package config resolves runtime settings for the docrepo tools.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// DOCREPO_* environment variables. Command-line flags are applied last by
// the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docrepo/internal/store"
)

// DefaultDB is the database file used when nothing else is configured.
const DefaultDB = "docrepo.db"

// Config holds the settings shared by every command.
type Config struct {
	DB              string        `yaml:"db"               env:"DOCREPO_DB"`
	Declarations    string        `yaml:"declarations"     env:"DOCREPO_DECLARATIONS"`
	PollInterval    time.Duration `yaml:"poll_interval"    env:"DOCREPO_POLL_INTERVAL"`
	ChangeRetention time.Duration `yaml:"change_retention" env:"DOCREPO_CHANGE_RETENTION"`
	LogLevel        string        `yaml:"log_level"        env:"DOCREPO_LOG_LEVEL"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DB:              DefaultDB,
		PollInterval:    store.DefaultPollInterval,
		ChangeRetention: store.DefaultChangeRetention,
		LogLevel:        "info",
	}
}

// Load resolves defaults, the YAML file at path (skipped when path is
// empty) and the environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the store cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.ChangeRetention <= 0 {
		errs = append(errs, fmt.Errorf("change_retention must be positive, got %s", c.ChangeRetention))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger builds a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// StoreOptions translates the settings into store options.
func (c Config) StoreOptions(logger *slog.Logger) []store.Option {
	return []store.Option{
		store.WithLogger(logger),
		store.WithPollInterval(c.PollInterval),
		store.WithChangeRetention(c.ChangeRetention),
	}
}

// Open returns a closed store handle for the configured database.
func (c Config) Open(logger *slog.Logger) *store.DB {
	return store.New(c.DB, c.StoreOptions(logger)...)
}
