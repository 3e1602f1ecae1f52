// Package config loads the binder core configuration: logging, inspection
// server, executor sizing, lifecycle timeouts and the declarative per-service
// registration metadata (stability class, lazy flag, exported flag).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/binderlab/binder_core/pkg/logger"
)

// Duration is a yaml-friendly time.Duration ("5s", "250ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the read-only inspection HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RateLimit is requests per second per client; Burst is the allowance.
	RateLimit int `yaml:"rate_limit"`
	Burst     int `yaml:"burst"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExecutorConfig configures the worker pool.
type ExecutorConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// LifecycleConfig holds the default lazy-service timeouts. Individual
// services may override them.
type LifecycleConfig struct {
	StartTimeout Duration `yaml:"start_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	StopTimeout  Duration `yaml:"stop_timeout"`
}

// ServiceConfig is the declarative registration metadata for one exported
// service: supplied by configuration, consumed at registration time, never
// computed by the core.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
	Version   uint32 `yaml:"version"`
	Stability string `yaml:"stability"`
	Lazy      bool   `yaml:"lazy"`
	Exported  bool   `yaml:"exported"`

	// Per-service overrides; zero means the LifecycleConfig default.
	StartTimeout Duration `yaml:"start_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// Config is the root configuration.
type Config struct {
	Logging   logger.LoggingConfig `yaml:"logging"`
	Server    ServerConfig         `yaml:"server"`
	Executor  ExecutorConfig       `yaml:"executor"`
	Lifecycle LifecycleConfig      `yaml:"lifecycle"`
	Services  []ServiceConfig      `yaml:"services"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8430,
			RateLimit: 50,
			Burst:     100,
		},
		Executor: ExecutorConfig{PoolSize: 8},
		Lifecycle: LifecycleConfig{
			StartTimeout: Duration(5 * time.Second),
			IdleTimeout:  Duration(30 * time.Second),
			StopTimeout:  Duration(5 * time.Second),
		},
	}
}

// Load reads configuration from path, falling back to defaults for anything
// unset, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural requirements before the process wires anything.
func (c *Config) Validate() error {
	if c.Executor.PoolSize <= 0 {
		return fmt.Errorf("executor.pool_size must be positive, got %d", c.Executor.PoolSize)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("services[%d]: duplicate name %q", i, svc.Name)
		}
		seen[svc.Name] = true
		if svc.Interface == "" {
			return fmt.Errorf("service %q: interface is required", svc.Name)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BINDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BINDER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BINDER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BINDER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BINDER_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Executor.PoolSize = size
		}
	}
	if v := os.Getenv("BINDER_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.IdleTimeout = Duration(d)
		}
	}
	if v := os.Getenv("BINDER_START_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.StartTimeout = Duration(d)
		}
	}
}
