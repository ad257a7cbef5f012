// Package config manages the vcs-automat daemon configuration using
// koanf/v2.
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

// Config holds the complete vcs-automat configuration.
type Config struct {
	Serial     SerialConfig     `koanf:"serial"`
	CardReader SerialConfig     `koanf:"card_reader"`
	MDB        MDBConfig        `koanf:"mdb"`
	Providers  []ProviderConfig `koanf:"providers"`
	Database   DatabaseConfig   `koanf:"database"`
	AdminAPI   AdminAPIConfig   `koanf:"admin_api"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
}

// SerialConfig describes a serial line by device path and baud rate. Used
// for both the MDB adapter link (115200 baud by default) and the card
// reader's UID feed (9600 baud by default), which runs over its own
// independent line.
type SerialConfig struct {
	// Device is the character device path, e.g. "/dev/ttyUSB0".
	Device string `koanf:"device"`
	// BaudRate is the line rate in bits per second.
	BaudRate int `koanf:"baud_rate"`
}

// MDBConfig holds protocol-level tunables for the cashless session FSM.
// These fields are loaded and validated only; the mdb engine does not read
// them (its SESSION.IDLE timeout is the fixed 12s sessionIdleTimeout, it
// has no POLL-gap timeout, and its SETUP CONFIG reply is a fixed payload).
type MDBConfig struct {
	// IdleTimeout is a SESSION.IDLE inactivity bound.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// PollTimeout is a maximum gap between successive POLLs.
	PollTimeout time.Duration `koanf:"poll_timeout"`
	// MaxPrice and MinPrice are price bounds in the peripheral's native
	// currency scale.
	MaxPrice uint16 `koanf:"max_price"`
	MinPrice uint16 `koanf:"min_price"`
}

// ProviderConfig describes one identity-provider chain entry (§4.3, §6).
// Kind selects which field group (HTTPS or local) is used; Tag
// disambiguates entries in admin API calls and log lines.
type ProviderConfig struct {
	Tag  string `koanf:"tag"`
	Kind string `koanf:"kind"` // "https" or "local"

	// HTTPS fields, used when Kind == "https".
	AuthURL   string        `koanf:"auth_url"`
	ReportURL string        `koanf:"report_url"`
	InfoURL   string        `koanf:"info_url"`
	Secret    string        `koanf:"secret"`
	Timeout   time.Duration `koanf:"timeout"`

	// Local fields, used when Kind == "local" (§6: local provider fallback).
	StandardCredits uint32   `koanf:"standard_credits"`
	KnownCards      []string `koanf:"known_cards"`
}

// DatabaseConfig describes the local SQLite-backed nonce/credit store (§5).
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// AdminAPIConfig holds the local HTTP administration endpoint settings (§9).
type AdminAPIConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults,
// including a 30s MDB idle timeout and a 5s POLL timeout (see MDBConfig:
// the engine does not read them).
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:   "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		CardReader: SerialConfig{
			Device:   "/dev/ttyUSB1",
			BaudRate: 9600,
		},
		MDB: MDBConfig{
			IdleTimeout: 30 * time.Second,
			PollTimeout: 5 * time.Second,
			MaxPrice:    0xFFFF,
			MinPrice:    0,
		},
		Database: DatabaseConfig{
			Path: "/var/lib/vcs-automat/state.db",
		},
		AdminAPI: AdminAPIConfig{
			Addr: "127.0.0.1:8734",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for vcs-automat configuration.
// Variables are named VCSAUTOMAT_<section>_<key>, e.g. VCSAUTOMAT_SERIAL_DEVICE.
const envPrefix = "VCSAUTOMAT_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (VCSAUTOMAT_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	VCSAUTOMAT_SERIAL_DEVICE    -> serial.device
//	VCSAUTOMAT_MDB_IDLE_TIMEOUT -> mdb.idle_timeout
//	VCSAUTOMAT_DATABASE_PATH    -> database.path
//	VCSAUTOMAT_ADMIN_API_ADDR   -> admin_api.addr
//	VCSAUTOMAT_METRICS_ADDR     -> metrics.addr
//	VCSAUTOMAT_LOG_LEVEL        -> log.level
//
// The provider chain cannot be expressed as flat env keys and is only
// configurable via the YAML file.
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

// envKeyMapper transforms VCSAUTOMAT_SERIAL_DEVICE -> serial.device.
// Strips the VCSAUTOMAT_ prefix, lowercases, and replaces the _ that ends
// the section name with . (section names admin_api and card_reader keep
// their own _, as do key names such as idle_timeout).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	for _, section := range []string{"admin_api", "card_reader"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	section, rest, _ := strings.Cut(s, "_")
	return section + "." + rest
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"serial.device":         defaults.Serial.Device,
		"serial.baud_rate":      defaults.Serial.BaudRate,
		"card_reader.device":    defaults.CardReader.Device,
		"card_reader.baud_rate": defaults.CardReader.BaudRate,
		"mdb.idle_timeout":      defaults.MDB.IdleTimeout.String(),
		"mdb.poll_timeout":      defaults.MDB.PollTimeout.String(),
		"mdb.max_price":         defaults.MDB.MaxPrice,
		"mdb.min_price":         defaults.MDB.MinPrice,
		"database.path":         defaults.Database.Path,
		"admin_api.addr":        defaults.AdminAPI.Addr,
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"log.level":             defaults.Log.Level,
		"log.format":            defaults.Log.Format,
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
	// ErrEmptySerialDevice indicates the serial device path is empty.
	ErrEmptySerialDevice = errors.New("serial.device must not be empty")

	// ErrInvalidBaudRate indicates the configured baud rate is not positive.
	ErrInvalidBaudRate = errors.New("serial.baud_rate must be > 0")

	// ErrEmptyCardReaderDevice indicates the card reader device path is empty.
	ErrEmptyCardReaderDevice = errors.New("card_reader.device must not be empty")

	// ErrInvalidCardReaderBaudRate indicates the card reader baud rate is not positive.
	ErrInvalidCardReaderBaudRate = errors.New("card_reader.baud_rate must be > 0")

	// ErrInvalidIdleTimeout indicates mdb.idle_timeout is not positive.
	ErrInvalidIdleTimeout = errors.New("mdb.idle_timeout must be > 0")

	// ErrInvalidPollTimeout indicates mdb.poll_timeout is not positive.
	ErrInvalidPollTimeout = errors.New("mdb.poll_timeout must be > 0")

	// ErrInvalidPriceRange indicates mdb.min_price exceeds mdb.max_price.
	ErrInvalidPriceRange = errors.New("mdb.min_price must not exceed mdb.max_price")

	// ErrEmptyProviderTag indicates a provider entry has no tag.
	ErrEmptyProviderTag = errors.New("provider tag must not be empty")

	// ErrDuplicateProviderTag indicates two provider entries share a tag.
	ErrDuplicateProviderTag = errors.New("duplicate provider tag")

	// ErrInvalidProviderKind indicates an unrecognized provider kind.
	ErrInvalidProviderKind = errors.New("provider kind must be https or local")

	// ErrIncompleteHTTPSProvider indicates an https provider is missing a required URL or secret.
	ErrIncompleteHTTPSProvider = errors.New("https provider requires auth_url, report_url, info_url and secret")

	// ErrEmptyDatabasePath indicates database.path is empty.
	ErrEmptyDatabasePath = errors.New("database.path must not be empty")

	// ErrEmptyAdminAPIAddr indicates admin_api.addr is empty.
	ErrEmptyAdminAPIAddr = errors.New("admin_api.addr must not be empty")
)

// ValidProviderKinds lists the recognized provider kind strings.
var ValidProviderKinds = map[string]bool{
	"https": true,
	"local": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Serial.Device == "" {
		return ErrEmptySerialDevice
	}
	if cfg.Serial.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}

	if cfg.CardReader.Device == "" {
		return ErrEmptyCardReaderDevice
	}
	if cfg.CardReader.BaudRate <= 0 {
		return ErrInvalidCardReaderBaudRate
	}

	if cfg.MDB.IdleTimeout <= 0 {
		return ErrInvalidIdleTimeout
	}
	if cfg.MDB.PollTimeout <= 0 {
		return ErrInvalidPollTimeout
	}
	if cfg.MDB.MinPrice > cfg.MDB.MaxPrice {
		return ErrInvalidPriceRange
	}

	if err := validateProviders(cfg.Providers); err != nil {
		return err
	}

	if cfg.Database.Path == "" {
		return ErrEmptyDatabasePath
	}

	if cfg.AdminAPI.Addr == "" {
		return ErrEmptyAdminAPIAddr
	}

	return nil
}

// validateProviders checks each provider chain entry for correctness and
// uniqueness of tag (§4.2: tag doubles as tie-break order and lookup key).
func validateProviders(providers []ProviderConfig) error {
	seen := make(map[string]struct{}, len(providers))

	for i, pc := range providers {
		if pc.Tag == "" {
			return fmt.Errorf("providers[%d]: %w", i, ErrEmptyProviderTag)
		}
		if _, dup := seen[pc.Tag]; dup {
			return fmt.Errorf("providers[%d] tag %q: %w", i, pc.Tag, ErrDuplicateProviderTag)
		}
		seen[pc.Tag] = struct{}{}

		if !ValidProviderKinds[pc.Kind] {
			return fmt.Errorf("providers[%d] kind %q: %w", i, pc.Kind, ErrInvalidProviderKind)
		}

		if pc.Kind == "https" {
			if pc.AuthURL == "" || pc.ReportURL == "" || pc.InfoURL == "" || pc.Secret == "" {
				return fmt.Errorf("providers[%d] %q: %w", i, pc.Tag, ErrIncompleteHTTPSProvider)
			}
		}
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
