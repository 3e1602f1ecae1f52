package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr() != "127.0.0.1:8430" {
		t.Errorf("addr = %q, want 127.0.0.1:8430", cfg.Server.Addr())
	}
	if cfg.Executor.PoolSize != 8 {
		t.Errorf("pool size = %d, want 8", cfg.Executor.PoolSize)
	}
	if cfg.Lifecycle.IdleTimeout.Std() != 30*time.Second {
		t.Errorf("idle timeout = %v, want 30s", cfg.Lifecycle.IdleTimeout.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binderd.yaml")
	data := `
logging:
  level: debug
  format: json
server:
  host: 0.0.0.0
  port: 9000
executor:
  pool_size: 16
lifecycle:
  start_timeout: 2s
  idle_timeout: 45s
services:
  - name: device.info
    interface: IDeviceInfo
    version: 2
    stability: vintf
    lazy: true
    exported: true
    idle_timeout: 10s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Executor.PoolSize != 16 {
		t.Errorf("pool size = %d, want 16", cfg.Executor.PoolSize)
	}
	if cfg.Lifecycle.StartTimeout.Std() != 2*time.Second {
		t.Errorf("start timeout = %v, want 2s", cfg.Lifecycle.StartTimeout.Std())
	}
	// Unset fields keep the defaults.
	if cfg.Lifecycle.StopTimeout.Std() != 5*time.Second {
		t.Errorf("stop timeout = %v, want default 5s", cfg.Lifecycle.StopTimeout.Std())
	}

	if len(cfg.Services) != 1 {
		t.Fatalf("services = %d, want 1", len(cfg.Services))
	}
	svc := cfg.Services[0]
	if svc.Name != "device.info" || svc.Interface != "IDeviceInfo" || svc.Version != 2 {
		t.Errorf("service = %+v", svc)
	}
	if !svc.Lazy || !svc.Exported || svc.Stability != "vintf" {
		t.Errorf("service flags = %+v", svc)
	}
	if svc.IdleTimeout.Std() != 10*time.Second {
		t.Errorf("service idle timeout = %v, want 10s", svc.IdleTimeout.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded, want error")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8430 {
		t.Errorf("port = %d, want 8430", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BINDER_LOG_LEVEL", "warn")
	t.Setenv("BINDER_SERVER_PORT", "9100")
	t.Setenv("BINDER_POOL_SIZE", "3")
	t.Setenv("BINDER_IDLE_TIMEOUT", "7s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Executor.PoolSize != 3 {
		t.Errorf("pool size = %d, want 3", cfg.Executor.PoolSize)
	}
	if cfg.Lifecycle.IdleTimeout.Std() != 7*time.Second {
		t.Errorf("idle timeout = %v, want 7s", cfg.Lifecycle.IdleTimeout.Std())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero pool size",
			mutate:  func(c *Config) { c.Executor.PoolSize = 0 },
			wantErr: "pool_size",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
		{
			name: "service without name",
			mutate: func(c *Config) {
				c.Services = []ServiceConfig{{Interface: "IThing"}}
			},
			wantErr: "name is required",
		},
		{
			name: "service without interface",
			mutate: func(c *Config) {
				c.Services = []ServiceConfig{{Name: "thing"}}
			},
			wantErr: "interface is required",
		},
		{
			name: "duplicate service name",
			mutate: func(c *Config) {
				c.Services = []ServiceConfig{
					{Name: "thing", Interface: "IThing"},
					{Name: "thing", Interface: "IOther"},
				}
			},
			wantErr: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("lifecycle:\n  idle_timeout: soon\n"), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load with invalid duration succeeded, want error")
	}
}
