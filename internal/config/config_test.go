package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
user:
  id: u-1
  token: tok-abc
api:
  rest_url: https://arena.example.com/api
realtime:
  url: wss://arena.example.com
  transports: [polling]
payment_log:
  driver: postgres
  postgres:
    host: localhost
    port: 5432
    name: arena
    user: arena
    password: arenapass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.User.Token != "tok-abc" {
		t.Errorf("User.Token = %q, want %q", cfg.User.Token, "tok-abc")
	}
	if cfg.API.RestURL != "https://arena.example.com/api" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://arena.example.com/api")
	}
	if len(cfg.Realtime.Transports) != 1 || cfg.Realtime.Transports[0] != "polling" {
		t.Errorf("Realtime.Transports = %v, want [polling]", cfg.Realtime.Transports)
	}
	if cfg.PaymentLog.Postgres.Host != "localhost" {
		t.Errorf("PaymentLog.Postgres.Host = %q, want %q", cfg.PaymentLog.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_ARENA_TOKEN", "secret123")

	yaml := `
user:
  token: ${TEST_ARENA_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.User.Token != "secret123" {
		t.Errorf("User.Token = %q, want %q", cfg.User.Token, "secret123")
	}
}

func TestLoadWithDotEnv(t *testing.T) {
	const key = "TEST_ARENA_DOTENV_TOKEN"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeTempFile(t, "user:\n  token: ${"+key+"}\n")
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.User.Token != "from-dotenv" {
		t.Errorf("User.Token = %q, want %q", cfg.User.Token, "from-dotenv")
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	const key = "TEST_ARENA_DOTENV_KEEP"
	t.Setenv(key, "from-env")

	path := writeTempFile(t, "user:\n  token: ${"+key+"}\n")
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.User.Token != "from-env" {
		t.Errorf("User.Token = %q, want %q", cfg.User.Token, "from-env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "user:\n  token: tok\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if len(cfg.Realtime.Transports) != 2 || cfg.Realtime.Transports[0] != "websocket" {
		t.Errorf("Realtime.Transports = %v, want %v", cfg.Realtime.Transports, DefaultTransports)
	}
	if cfg.Realtime.WithCredentials == nil || !*cfg.Realtime.WithCredentials {
		t.Error("Realtime.WithCredentials should default to true")
	}
	if cfg.Realtime.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("Realtime.ReconnectAttempts = %d, want default %d", cfg.Realtime.ReconnectAttempts, DefaultReconnectAttempts)
	}
	if cfg.Notify.Capacity != DefaultNotifyCapacity {
		t.Errorf("Notify.Capacity = %d, want default %d", cfg.Notify.Capacity, DefaultNotifyCapacity)
	}
	if cfg.Notify.TTL != DefaultNotifyTTL {
		t.Errorf("Notify.TTL = %v, want default %v", cfg.Notify.TTL, DefaultNotifyTTL)
	}
	if cfg.Payment.Deposit.Interval != DefaultDepositInterval || cfg.Payment.Deposit.MaxAttempts != 0 {
		t.Errorf("Payment.Deposit = %+v, want 3s uncapped", cfg.Payment.Deposit)
	}
	if cfg.Payment.Join.Interval != DefaultJoinInterval || cfg.Payment.Join.MaxAttempts != DefaultJoinMaxAttempts {
		t.Errorf("Payment.Join = %+v, want 10s capped at 30", cfg.Payment.Join)
	}
	if cfg.PaymentLog.Driver != DefaultPaymentLogDriver {
		t.Errorf("PaymentLog.Driver = %q, want default %q", cfg.PaymentLog.Driver, DefaultPaymentLogDriver)
	}
	if cfg.PaymentLog.Postgres.Port != DefaultDBPort {
		t.Errorf("PaymentLog.Postgres.Port = %d, want default %d", cfg.PaymentLog.Postgres.Port, DefaultDBPort)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging = %+v, want defaults", cfg.Logging)
	}
}

func TestLoadWithDefaultsKeepsExplicitFalse(t *testing.T) {
	path := writeTempFile(t, "realtime:\n  with_credentials: false\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Realtime.WithCredentials == nil || *cfg.Realtime.WithCredentials {
		t.Error("Realtime.WithCredentials = true, want explicit false kept")
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "user:\n  id: u1\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate() expected error for missing token, got nil")
	}

	path = writeTempFile(t, "user:\n  token: tok\n")
	if _, err := LoadAndValidate(path); err != nil {
		t.Errorf("LoadAndValidate() unexpected error: %v", err)
	}
}

func validConfig() Config {
	var cfg Config
	cfg.User.Token = "tok"
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.User.Token = "" },
			wantErr: "user.token is required",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Realtime.Transports = []string{"websocket", "carrier-pigeon"} },
			wantErr: `realtime.transports: unknown transport "carrier-pigeon"`,
		},
		{
			name:    "delay max below delay",
			mutate:  func(c *Config) { c.Realtime.ReconnectDelayMax = 500 * time.Millisecond },
			wantErr: "realtime.reconnect_delay_max (500ms) cannot be less than reconnect_delay (1s)",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *Config) { c.Notify.Capacity = -1 },
			wantErr: "notify.capacity must be >= 1",
		},
		{
			name:    "unknown payment log driver",
			mutate:  func(c *Config) { c.PaymentLog.Driver = "mysql" },
			wantErr: `payment_log.driver must be none, sqlite or postgres, got "mysql"`,
		},
		{
			name:    "postgres without host",
			mutate:  func(c *Config) { c.PaymentLog.Driver = "postgres" },
			wantErr: "payment_log.postgres.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.PaymentLog.Driver = "postgres"
				c.PaymentLog.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "payment_log.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "payment log disabled",
			mutate:  func(c *Config) { c.PaymentLog.Driver = "none" },
			wantErr: "",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, err := (LoggingConfig{Level: level}).SlogLevel(); err != nil {
			t.Errorf("SlogLevel(%q) unexpected error: %v", level, err)
		}
	}
	if _, err := (LoggingConfig{Level: "loud"}).SlogLevel(); err == nil {
		t.Error("SlogLevel(loud) expected error, got nil")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
