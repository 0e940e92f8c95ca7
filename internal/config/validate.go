package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.User.Token == "" {
		return errors.New("user.token is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	for _, t := range c.Realtime.Transports {
		if t != "websocket" && t != "polling" {
			return fmt.Errorf("realtime.transports: unknown transport %q", t)
		}
	}
	if c.Realtime.ReconnectAttempts < 1 {
		return errors.New("realtime.reconnect_attempts must be >= 1")
	}
	if c.Realtime.ReconnectDelayMax < c.Realtime.ReconnectDelay {
		return fmt.Errorf("realtime.reconnect_delay_max (%v) cannot be less than reconnect_delay (%v)",
			c.Realtime.ReconnectDelayMax, c.Realtime.ReconnectDelay)
	}

	if c.Notify.Capacity < 1 {
		return errors.New("notify.capacity must be >= 1")
	}
	if c.Notify.TTL <= 0 {
		return errors.New("notify.ttl must be > 0")
	}

	if c.Payment.Deposit.Interval <= 0 {
		return errors.New("payment.deposit.interval must be > 0")
	}
	if c.Payment.Join.Interval <= 0 {
		return errors.New("payment.join.interval must be > 0")
	}
	if c.Payment.Deposit.MaxAttempts < 0 || c.Payment.Join.MaxAttempts < 0 {
		return errors.New("payment max_attempts must be >= 0")
	}

	switch c.PaymentLog.Driver {
	case "none":
	case "sqlite":
		if c.PaymentLog.Path == "" {
			return errors.New("payment_log.path is required for sqlite")
		}
	case "postgres":
		if err := c.PaymentLog.Postgres.validate("payment_log.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("payment_log.driver must be none, sqlite or postgres, got %q", c.PaymentLog.Driver)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
