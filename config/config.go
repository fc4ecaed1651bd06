// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Metering  MeteringConfig  `yaml:"metering"`
	Billing   BillingConfig   `yaml:"billing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the durable record store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the event log and realtime counter backend.
// Driver "memory" runs everything in-process (dev and tests).
type RedisConfig struct {
	Driver   string `yaml:"driver"` // "redis" or "memory"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// SandboxConfig configures the execution sandbox.
type SandboxConfig struct {
	Engine        string        `yaml:"engine"` // "docker" or "memory"
	BaseImage     string        `yaml:"base_image"`
	Command       []string      `yaml:"command"`
	WorkspaceRoot string        `yaml:"workspace_root"`
	MemoryLimitMB int64         `yaml:"memory_limit_mb"`
	CPUs          float64       `yaml:"cpus"`
	MaxOpenFiles  int64         `yaml:"max_open_files"`
	MaxProcesses  int64         `yaml:"max_processes"`
	Timeout       time.Duration `yaml:"timeout"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	BuildTimeout  time.Duration `yaml:"build_timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
}

// ArtifactsConfig configures the code artifact store.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// MeteringConfig configures the detached metering pipeline.
type MeteringConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	PricingCacheTTL time.Duration `yaml:"pricing_cache_ttl"`
}

// BillingConfig configures the billing worker.
type BillingConfig struct {
	Group      string        `yaml:"group"`
	Consumer   string        `yaml:"consumer"`
	BatchSize  int64         `yaml:"batch_size"`
	Interval   time.Duration `yaml:"interval"`
	CounterTTL time.Duration `yaml:"counter_ttl"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables,
// for container deployments where no config file is mounted.
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies FNGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FNGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FNGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FNGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FNGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FNGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FNGATE_SANDBOX_BASE_IMAGE"); v != "" {
		cfg.Sandbox.BaseImage = v
	}
	if v := os.Getenv("FNGATE_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sandbox.Timeout = d
		}
	}
	if v := os.Getenv("FNGATE_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("FNGATE_BILLING_CONSUMER"); v != "" {
		cfg.Billing.Consumer = v
	}
	if v := os.Getenv("FNGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FNGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FNGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Sandbox runs can take the full execution timeout.
		cfg.Server.WriteTimeout = 120 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "fngate.db"
	}

	if cfg.Redis.Driver == "" {
		cfg.Redis.Driver = "redis"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = "fngate:usage"
	}

	if cfg.Sandbox.Engine == "" {
		cfg.Sandbox.Engine = "docker"
	}
	if cfg.Sandbox.BaseImage == "" {
		cfg.Sandbox.BaseImage = "node:20-alpine"
	}
	if len(cfg.Sandbox.Command) == 0 {
		cfg.Sandbox.Command = []string{"node", "index.js"}
	}
	if cfg.Sandbox.WorkspaceRoot == "" {
		cfg.Sandbox.WorkspaceRoot = os.TempDir()
	}
	if cfg.Sandbox.MemoryLimitMB == 0 {
		cfg.Sandbox.MemoryLimitMB = 128
	}
	if cfg.Sandbox.CPUs == 0 {
		cfg.Sandbox.CPUs = 0.5
	}
	if cfg.Sandbox.MaxOpenFiles == 0 {
		cfg.Sandbox.MaxOpenFiles = 256
	}
	if cfg.Sandbox.MaxProcesses == 0 {
		cfg.Sandbox.MaxProcesses = 64
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}
	if cfg.Sandbox.FetchTimeout == 0 {
		cfg.Sandbox.FetchTimeout = 10 * time.Second
	}
	if cfg.Sandbox.BuildTimeout == 0 {
		cfg.Sandbox.BuildTimeout = 60 * time.Second
	}
	if cfg.Sandbox.MaxConcurrent == 0 {
		cfg.Sandbox.MaxConcurrent = 16
	}

	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "artifacts"
	}

	if cfg.Metering.QueueSize == 0 {
		cfg.Metering.QueueSize = 1024
	}
	if cfg.Metering.Workers == 0 {
		cfg.Metering.Workers = 4
	}
	if cfg.Metering.PricingCacheTTL == 0 {
		cfg.Metering.PricingCacheTTL = 5 * time.Minute
	}

	if cfg.Billing.Group == "" {
		cfg.Billing.Group = "billing-workers"
	}
	if cfg.Billing.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker-1"
		}
		cfg.Billing.Consumer = host
	}
	if cfg.Billing.BatchSize == 0 {
		cfg.Billing.BatchSize = 100
	}
	if cfg.Billing.Interval == 0 {
		cfg.Billing.Interval = 5 * time.Second
	}
	if cfg.Billing.CounterTTL == 0 {
		cfg.Billing.CounterTTL = time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver: %q", cfg.Database.Driver)
	}

	switch cfg.Redis.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown redis driver: %q", cfg.Redis.Driver)
	}

	switch cfg.Sandbox.Engine {
	case "docker", "memory":
	default:
		return fmt.Errorf("unknown sandbox engine: %q", cfg.Sandbox.Engine)
	}

	if cfg.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive")
	}
	if cfg.Sandbox.MemoryLimitMB < 4 {
		return fmt.Errorf("sandbox memory limit too small: %dMB", cfg.Sandbox.MemoryLimitMB)
	}
	if cfg.Billing.BatchSize < 1 {
		return fmt.Errorf("billing batch size must be positive")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", cfg.Logging.Level)
	}

	return nil
}
