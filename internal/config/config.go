// Package config loads syncreducer settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SYNCREDUCER_* environment variables. The merged result is checked
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYNCREDUCER_"

//go:embed schema.cue
var schemaSource string

// Config is the full configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Client ClientConfig `yaml:"client" json:"client"`
}

// ServerConfig configures `syncreducer serve`.
type ServerConfig struct {
	Addr       string `yaml:"addr" json:"addr" env:"ADDR"`
	Database   string `yaml:"database" json:"database" env:"DATABASE"`
	LogLevel   string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	PokeBuffer int    `yaml:"poke_buffer" json:"poke_buffer" env:"POKE_BUFFER"`
}

// ClientConfig configures the client commands.
type ClientConfig struct {
	ServerURL           string        `yaml:"server_url" json:"server_url" env:"SERVER_URL"`
	SpaceID             string        `yaml:"space_id" json:"space_id" env:"SPACE_ID"`
	PushInterval        time.Duration `yaml:"push_interval" json:"push_interval" env:"PUSH_INTERVAL"`
	PullInterval        time.Duration `yaml:"pull_interval" json:"pull_interval" env:"PULL_INTERVAL"`
	SyncInterval        time.Duration `yaml:"sync_interval" json:"sync_interval" env:"SYNC_INTERVAL"`
	SnapshotThreshold   int64         `yaml:"snapshot_threshold" json:"snapshot_threshold" env:"SNAPSHOT_THRESHOLD"`
	SnapshotProbability float64       `yaml:"snapshot_probability" json:"snapshot_probability" env:"SNAPSHOT_PROBABILITY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			Database:   "syncreducer.db",
			LogLevel:   "info",
			PokeBuffer: 64,
		},
		Client: ClientConfig{
			ServerURL:           "http://localhost:8080",
			PushInterval:        100 * time.Millisecond,
			PullInterval:        100 * time.Millisecond,
			SyncInterval:        5 * time.Second,
			SnapshotThreshold:   50,
			SnapshotProbability: 0.01,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "config: invalid: " + e.Details
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

// Level maps LogLevel to a slog level. Unknown values mean info.
func (c ServerConfig) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
