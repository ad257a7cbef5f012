package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agimpel/vcs-automat-core/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Serial.Device != "/dev/ttyUSB0" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyUSB0")
	}

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want %d", cfg.Serial.BaudRate, 115200)
	}

	if cfg.CardReader.Device != "/dev/ttyUSB1" {
		t.Errorf("CardReader.Device = %q, want %q", cfg.CardReader.Device, "/dev/ttyUSB1")
	}

	if cfg.MDB.IdleTimeout != 30*time.Second {
		t.Errorf("MDB.IdleTimeout = %v, want %v", cfg.MDB.IdleTimeout, 30*time.Second)
	}

	if cfg.MDB.PollTimeout != 5*time.Second {
		t.Errorf("MDB.PollTimeout = %v, want %v", cfg.MDB.PollTimeout, 5*time.Second)
	}

	if cfg.AdminAPI.Addr != "127.0.0.1:8734" {
		t.Errorf("AdminAPI.Addr = %q, want %q", cfg.AdminAPI.Addr, "127.0.0.1:8734")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
serial:
  device: "/dev/ttyACM0"
  baud_rate: 9600
mdb:
  idle_timeout: "45s"
  poll_timeout: "8s"
  max_price: 500
  min_price: 10
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Serial.Device != "/dev/ttyACM0" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyACM0")
	}

	if cfg.MDB.IdleTimeout != 45*time.Second {
		t.Errorf("MDB.IdleTimeout = %v, want %v", cfg.MDB.IdleTimeout, 45*time.Second)
	}

	if cfg.MDB.PollTimeout != 8*time.Second {
		t.Errorf("MDB.PollTimeout = %v, want %v", cfg.MDB.PollTimeout, 8*time.Second)
	}

	if cfg.MDB.MaxPrice != 500 {
		t.Errorf("MDB.MaxPrice = %d, want %d", cfg.MDB.MaxPrice, 500)
	}

	if cfg.MDB.MinPrice != 10 {
		t.Errorf("MDB.MinPrice = %d, want %d", cfg.MDB.MinPrice, 10)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override serial.device and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
serial:
  device: "/dev/ttyS1"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Serial.Device != "/dev/ttyS1" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyS1")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want default %d", cfg.Serial.BaudRate, 115200)
	}

	if cfg.MDB.IdleTimeout != 30*time.Second {
		t.Errorf("MDB.IdleTimeout = %v, want default %v", cfg.MDB.IdleTimeout, 30*time.Second)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.AdminAPI.Addr != "127.0.0.1:8734" {
		t.Errorf("AdminAPI.Addr = %q, want default %q", cfg.AdminAPI.Addr, "127.0.0.1:8734")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty serial device",
			modify: func(cfg *config.Config) {
				cfg.Serial.Device = ""
			},
			wantErr: config.ErrEmptySerialDevice,
		},
		{
			name: "zero baud rate",
			modify: func(cfg *config.Config) {
				cfg.Serial.BaudRate = 0
			},
			wantErr: config.ErrInvalidBaudRate,
		},
		{
			name: "empty card reader device",
			modify: func(cfg *config.Config) {
				cfg.CardReader.Device = ""
			},
			wantErr: config.ErrEmptyCardReaderDevice,
		},
		{
			name: "zero card reader baud rate",
			modify: func(cfg *config.Config) {
				cfg.CardReader.BaudRate = 0
			},
			wantErr: config.ErrInvalidCardReaderBaudRate,
		},
		{
			name: "zero idle timeout",
			modify: func(cfg *config.Config) {
				cfg.MDB.IdleTimeout = 0
			},
			wantErr: config.ErrInvalidIdleTimeout,
		},
		{
			name: "negative poll timeout",
			modify: func(cfg *config.Config) {
				cfg.MDB.PollTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidPollTimeout,
		},
		{
			name: "min price exceeds max price",
			modify: func(cfg *config.Config) {
				cfg.MDB.MinPrice = 100
				cfg.MDB.MaxPrice = 50
			},
			wantErr: config.ErrInvalidPriceRange,
		},
		{
			name: "empty database path",
			modify: func(cfg *config.Config) {
				cfg.Database.Path = ""
			},
			wantErr: config.ErrEmptyDatabasePath,
		},
		{
			name: "empty admin api addr",
			modify: func(cfg *config.Config) {
				cfg.AdminAPI.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAPIAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := `
serial:
  device: "/dev/ttyUSB0"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("VCSAUTOMAT_METRICS_ADDR", ":9200")
	t.Setenv("VCSAUTOMAT_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

func TestLoadWithProviders(t *testing.T) {
	t.Parallel()

	yamlContent := `
serial:
  device: "/dev/ttyUSB0"
providers:
  - tag: "vcs"
    kind: "https"
    auth_url: "https://vcs.example.org/auth"
    report_url: "https://vcs.example.org/report"
    info_url: "https://vcs.example.org/info"
    secret: "s3cr3t"
  - tag: "local"
    kind: "local"
    standard_credits: 5
    known_cards: ["1234567890"]
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("Providers count = %d, want 2", len(cfg.Providers))
	}

	p1 := cfg.Providers[0]
	if p1.Tag != "vcs" || p1.Kind != "https" {
		t.Errorf("Providers[0] = %+v, want tag=vcs kind=https", p1)
	}
	if p1.AuthURL != "https://vcs.example.org/auth" {
		t.Errorf("Providers[0].AuthURL = %q", p1.AuthURL)
	}

	p2 := cfg.Providers[1]
	if p2.Tag != "local" || p2.Kind != "local" {
		t.Errorf("Providers[1] = %+v, want tag=local kind=local", p2)
	}
	if p2.StandardCredits != 5 {
		t.Errorf("Providers[1].StandardCredits = %d, want 5", p2.StandardCredits)
	}
	if len(p2.KnownCards) != 1 || p2.KnownCards[0] != "1234567890" {
		t.Errorf("Providers[1].KnownCards = %v, want [1234567890]", p2.KnownCards)
	}
}

func TestValidateProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty provider tag",
			modify: func(cfg *config.Config) {
				cfg.Providers = []config.ProviderConfig{{Tag: "", Kind: "local"}}
			},
			wantErr: config.ErrEmptyProviderTag,
		},
		{
			name: "duplicate provider tag",
			modify: func(cfg *config.Config) {
				cfg.Providers = []config.ProviderConfig{
					{Tag: "dup", Kind: "local"},
					{Tag: "dup", Kind: "local"},
				}
			},
			wantErr: config.ErrDuplicateProviderTag,
		},
		{
			name: "invalid provider kind",
			modify: func(cfg *config.Config) {
				cfg.Providers = []config.ProviderConfig{{Tag: "x", Kind: "carrier-pigeon"}}
			},
			wantErr: config.ErrInvalidProviderKind,
		},
		{
			name: "incomplete https provider",
			modify: func(cfg *config.Config) {
				cfg.Providers = []config.ProviderConfig{{Tag: "vcs", Kind: "https"}}
			},
			wantErr: config.ErrIncompleteHTTPSProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "vcs-automat.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
