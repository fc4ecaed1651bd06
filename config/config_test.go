package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fngate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Redis.Stream != "fngate:usage" {
		t.Errorf("Redis.Stream = %q", cfg.Redis.Stream)
	}
	if cfg.Sandbox.Timeout != 30*time.Second {
		t.Errorf("Sandbox.Timeout = %v, want 30s", cfg.Sandbox.Timeout)
	}
	if cfg.Billing.Interval != 5*time.Second {
		t.Errorf("Billing.Interval = %v, want 5s", cfg.Billing.Interval)
	}
	if cfg.Billing.CounterTTL != time.Hour {
		t.Errorf("Billing.CounterTTL = %v, want 1h", cfg.Billing.CounterTTL)
	}
	if cfg.Metering.PricingCacheTTL != 5*time.Minute {
		t.Errorf("PricingCacheTTL = %v, want 5m", cfg.Metering.PricingCacheTTL)
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 8888
database:
  driver: sqlite
  dsn: /tmp/test.db
redis:
  driver: memory
sandbox:
  engine: memory
  base_image: node:20-alpine
  memory_limit_mb: 256
  timeout: 10s
billing:
  group: test-group
  consumer: test-consumer
  batch_size: 25
  interval: 1s
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.MemoryLimitMB != 256 {
		t.Errorf("MemoryLimitMB = %d", cfg.Sandbox.MemoryLimitMB)
	}
	if cfg.Sandbox.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", cfg.Sandbox.Timeout)
	}
	if cfg.Billing.Group != "test-group" || cfg.Billing.BatchSize != 25 {
		t.Errorf("Billing = %+v", cfg.Billing)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"bad database driver", "database:\n  driver: oracle\n"},
		{"bad sandbox engine", "sandbox:\n  engine: chroot\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"tiny memory limit", "sandbox:\n  memory_limit_mb: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FNGATE_SERVER_PORT", "7070")
	t.Setenv("FNGATE_LOG_LEVEL", "warn")
	t.Setenv("FNGATE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
