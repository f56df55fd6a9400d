// Package config manages tfh-mitm configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete tfh-mitm configuration.
type Config struct {
	Relay    RelayConfig    `koanf:"relay"`
	TFH      TFHConfig      `koanf:"tfh"`
	Log      LogConfig      `koanf:"log"`
	Logs     LogsConfig     `koanf:"logs"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Rewriter RewriterConfig `koanf:"rewriter"`
}

// RelayConfig names the two sides the relay bridges. Each value is
// either an interface name, opened directly with TUNSETIFF, or a
// filesystem path to a UNIX socket a tun-server process is listening
// on, distinguished by whether the path already exists on disk. The
// relay binary's positional CLI arguments are authoritative and
// override these; they exist mainly so other tooling can read the
// configured topology without parsing argv.
type RelayConfig struct {
	// SideA is the outside-of-sandbox interface or socket.
	SideA string `koanf:"side_a"`
	// SideB is the inside-of-sandbox interface or socket.
	SideB string `koanf:"side_b"`
}

// TFHConfig bounds the well-known lobby-protocol port range and
// connection idle timeout.
type TFHConfig struct {
	// PortRangeMin/Max bound the UDP ports the relay treats as carrying
	// TFH stream traffic.
	PortRangeMin uint16 `koanf:"port_range_min"`
	PortRangeMax uint16 `koanf:"port_range_max"`

	// ConnTimeout is how long a tracked connection may sit idle before
	// the manager evicts it.
	ConnTimeout time.Duration `koanf:"conn_timeout"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// LogsConfig holds the per-connection log directory and status file
// path, passed as injected constructor parameters rather than treated
// as process-wide singletons.
type LogsConfig struct {
	// Dir is the directory per-connection chunk logs are written under.
	Dir string `koanf:"dir"`
	// StatusPath is the path status.txt is rewritten to whenever a
	// player logs in or a connection with a logged-in player times out.
	StatusPath string `koanf:"status_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// RewriterConfig bounds the B-to-A source ports the status rewriter
// acts on.
type RewriterConfig struct {
	StatusPortMin uint16 `koanf:"status_port_min"`
	StatusPortMax uint16 `koanf:"status_port_max"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TFH: TFHConfig{
			PortRangeMin: 27010,
			PortRangeMax: 27030,
			ConnTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Logs: LogsConfig{
			Dir:        "logs",
			StatusPath: "status.txt",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Rewriter: RewriterConfig{
			StatusPortMin: 27010,
			StatusPortMax: 27030,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for tfh-mitm configuration.
// Variables are named TFHMITM_<section>_<key>, e.g., TFHMITM_LOG_LEVEL.
const envPrefix = "TFHMITM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (TFHMITM_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	TFHMITM_RELAY_SIDE_A     -> relay.side_a
//	TFHMITM_TFH_CONN_TIMEOUT -> tfh.conn_timeout
//	TFHMITM_LOG_LEVEL        -> log.level
//	TFHMITM_METRICS_ADDR     -> metrics.addr
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms TFHMITM_RELAY_SIDE_A -> relay.side_a.
// Strips the TFHMITM_ prefix, lowercases, and replaces the first _ per
// section with a "." while leaving the rest intact; koanf resolves the
// remaining underscores against the struct tags during Unmarshal.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"relay.side_a":           defaults.Relay.SideA,
		"relay.side_b":           defaults.Relay.SideB,
		"tfh.port_range_min":     defaults.TFH.PortRangeMin,
		"tfh.port_range_max":     defaults.TFH.PortRangeMax,
		"tfh.conn_timeout":       defaults.TFH.ConnTimeout.String(),
		"log.level":              defaults.Log.Level,
		"log.format":             defaults.Log.Format,
		"logs.dir":               defaults.Logs.Dir,
		"logs.status_path":       defaults.Logs.StatusPath,
		"metrics.addr":           defaults.Metrics.Addr,
		"metrics.path":           defaults.Metrics.Path,
		"rewriter.status_port_min": defaults.Rewriter.StatusPortMin,
		"rewriter.status_port_max": defaults.Rewriter.StatusPortMax,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidPortRange indicates tfh.port_range_min/max is not a
	// valid non-empty port range.
	ErrInvalidPortRange = errors.New("tfh.port_range_min must be <= tfh.port_range_max")

	// ErrInvalidConnTimeout indicates tfh.conn_timeout is non-positive.
	ErrInvalidConnTimeout = errors.New("tfh.conn_timeout must be > 0")

	// ErrEmptyMetricsAddr indicates metrics.addr is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidRewriterPortRange indicates rewriter.status_port_min/max
	// is not a valid non-empty port range.
	ErrInvalidRewriterPortRange = errors.New("rewriter.status_port_min must be <= rewriter.status_port_max")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.TFH.PortRangeMin > cfg.TFH.PortRangeMax {
		return ErrInvalidPortRange
	}
	if cfg.TFH.ConnTimeout <= 0 {
		return ErrInvalidConnTimeout
	}
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	if cfg.Rewriter.StatusPortMin > cfg.Rewriter.StatusPortMax {
		return ErrInvalidRewriterPortRange
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
