package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saveenergy/connflurry/internal/config"
	"github.com/saveenergy/connflurry/internal/logging"
)

func validConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.Port != "80" || cfg.Concurrency != 1 || cfg.Total != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StaleAfter != 5*time.Second {
		t.Fatalf("stale after = %s, want 5s", cfg.StaleAfter)
	}
	if cfg.TickTimeout != 10*time.Millisecond {
		t.Fatalf("tick timeout = %s, want 10ms", cfg.TickTimeout)
	}
	if cfg.Payload != "GET" {
		t.Fatalf("payload = %q, want GET", cfg.Payload)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *config.Config) {}},
		{name: "missing host", mutate: func(c *config.Config) { c.Host = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *config.Config) { c.Port = "http" }, wantErr: true},
		{name: "port out of range", mutate: func(c *config.Config) { c.Port = "70000" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *config.Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "zero total", mutate: func(c *config.Config) { c.Total = 0 }, wantErr: true},
		{name: "tick above stale", mutate: func(c *config.Config) { c.TickTimeout = 10 * time.Second }, wantErr: true},
		{name: "empty payload", mutate: func(c *config.Config) { c.Payload = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *config.Config) { c.LogLevel = "chatty" }, wantErr: true},
		{name: "bind list", mutate: func(c *config.Config) { c.BindAddresses = []string{"127.0.0.1", "127.0.0.2"} }},
		{name: "bad bind", mutate: func(c *config.Config) { c.BindAddresses = []string{"nope"} }, wantErr: true},
		{name: "mixed families", mutate: func(c *config.Config) { c.BindAddresses = []string{"127.0.0.1", "::1"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flurry.yaml")
	content := `host: target.example
port: "8080"
concurrency: 64
total: 100000
bind_addresses:
  - 192.168.1.12
  - 192.168.1.14
stale_after: 3s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := config.DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Host != "target.example" || cfg.Port != "8080" {
		t.Fatalf("target = %s, want target.example:8080", cfg.TargetAddress())
	}
	if cfg.Concurrency != 64 || cfg.Total != 100000 {
		t.Fatalf("concurrency/total = %d/%d", cfg.Concurrency, cfg.Total)
	}
	if len(cfg.BindAddresses) != 2 || cfg.BindAddresses[1] != "192.168.1.14" {
		t.Fatalf("bind addresses = %v", cfg.BindAddresses)
	}
	if cfg.StaleAfter != 3*time.Second {
		t.Fatalf("stale after = %s, want 3s", cfg.StaleAfter)
	}
	if cfg.TickTimeout != config.DefaultTickTimeout {
		t.Fatalf("tick timeout overwritten: %s", cfg.TickTimeout)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("concurrency: [1"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := cfg.LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLURRY_HOST", "10.0.0.5")
	t.Setenv("FLURRY_CONCURRENCY", "8")
	t.Setenv("FLURRY_TOTAL", "500")
	t.Setenv("FLURRY_BIND_ADDRESSES", "10.0.0.1, 10.0.0.2,")
	t.Setenv("FLURRY_STALE_AFTER", "2s")

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Concurrency != 8 || cfg.Total != 500 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.BindAddresses) != 2 {
		t.Fatalf("bind addresses = %v, want 2 entries", cfg.BindAddresses)
	}
	if cfg.StaleAfter != 2*time.Second {
		t.Fatalf("stale after = %s", cfg.StaleAfter)
	}
}

func TestLoadFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("FLURRY_CONCURRENCY", "-3")
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Fatal("expected error for negative concurrency")
	}
}

func TestLevel(t *testing.T) {
	cfg := validConfig()
	if cfg.Level() != logging.LevelInfo {
		t.Fatalf("level = %v, want info", cfg.Level())
	}
	cfg.Verbose = true
	if cfg.Level() != logging.LevelDebug {
		t.Fatalf("verbose level = %v, want debug", cfg.Level())
	}
}

func TestTargetAddressIPv6(t *testing.T) {
	cfg := validConfig()
	cfg.Host = "::1"
	cfg.Port = "8080"
	if got := cfg.TargetAddress(); got != "[::1]:8080" {
		t.Fatalf("TargetAddress = %q", got)
	}
}
