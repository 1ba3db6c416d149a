// Package config loads the server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// an optional .env file, then DUEL_* environment variables. The merged
// result is checked against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "DUEL_"

// Config holds the server configuration.
type Config struct {
	HTTPAddr      string `yaml:"http_addr" json:"http_addr"`
	DatabasePath  string `yaml:"database_path" json:"database_path"`
	CardIndexPath string `yaml:"card_index_path" json:"card_index_path"`

	SnapshotInterval int `yaml:"snapshot_interval" json:"snapshot_interval"`
	RoomCodeLength   int `yaml:"room_code_length" json:"room_code_length"`

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// WebSocket settings
	WSPingIntervalMS  int `yaml:"ws_ping_interval_ms" json:"ws_ping_interval_ms"`
	WSWriteTimeoutMS  int `yaml:"ws_write_timeout_ms" json:"ws_write_timeout_ms"`
	WSReadTimeoutMS   int `yaml:"ws_read_timeout_ms" json:"ws_read_timeout_ms"`
	WSMaxMessageBytes int `yaml:"ws_max_message_bytes" json:"ws_max_message_bytes"`

	// AuditIntervalS is the gap audit period in seconds. 0 disables it.
	AuditIntervalS int `yaml:"audit_interval_s" json:"audit_interval_s"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPAddr:          ":3001",
		DatabasePath:      "duel.db",
		SnapshotInterval:  50,
		RoomCodeLength:    6,
		LogLevel:          "info",
		LogFormat:         "text",
		WSPingIntervalMS:  30000,
		WSWriteTimeoutMS:  10000,
		WSReadTimeoutMS:   60000,
		WSMaxMessageBytes: 1 << 20,
		AuditIntervalS:    300,
	}
}

// Sources names the optional inputs layered over the defaults. Empty paths
// are skipped. A missing EnvFile is not an error; a missing File is.
type Sources struct {
	File    string
	EnvFile string
	// Getenv reads the process environment. Defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds and validates the configuration.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", src.File, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", src.File, err)
		}
	}

	dotenv := map[string]string{}
	if src.EnvFile != "" {
		m, err := godotenv.Read(src.EnvFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", src.EnvFile, err)
		default:
			dotenv = m
		}
	}

	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	// The process environment wins over the .env file.
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) string) error {
	strs := map[string]*string{
		"http_addr":       &c.HTTPAddr,
		"database_path":   &c.DatabasePath,
		"card_index_path": &c.CardIndexPath,
		"log_level":       &c.LogLevel,
		"log_format":      &c.LogFormat,
	}
	for key, dst := range strs {
		if v := lookup(envName(key)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"snapshot_interval":    &c.SnapshotInterval,
		"room_code_length":     &c.RoomCodeLength,
		"ws_ping_interval_ms":  &c.WSPingIntervalMS,
		"ws_write_timeout_ms":  &c.WSWriteTimeoutMS,
		"ws_read_timeout_ms":   &c.WSReadTimeoutMS,
		"ws_max_message_bytes": &c.WSMaxMessageBytes,
		"audit_interval_s":     &c.AuditIntervalS,
	}
	for key, dst := range ints {
		v := lookup(envName(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: not an integer: %q", envName(key), v)
		}
		*dst = n
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// PingInterval returns the WebSocket ping period.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.WSPingIntervalMS) * time.Millisecond
}

// WriteTimeout returns the WebSocket write deadline.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WSWriteTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the WebSocket read deadline.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.WSReadTimeoutMS) * time.Millisecond
}

// AuditInterval returns the gap audit period; zero means disabled.
func (c Config) AuditInterval() time.Duration {
	return time.Duration(c.AuditIntervalS) * time.Second
}

// NewLogger builds the process logger described by c.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.LogLevel)}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
