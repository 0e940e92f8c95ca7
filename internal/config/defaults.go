package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL           = "http://localhost:8080/api"
	DefaultRealtimeURL       = "ws://localhost:8080"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRateLimit         = 10
	DefaultRateBurst         = 5
	DefaultCookieName        = "token"
	DefaultReconnectDelay    = 1 * time.Second
	DefaultReconnectDelayMax = 5 * time.Second
	DefaultReconnectAttempts = 5
	DefaultConnectTimeout    = 20 * time.Second
	DefaultStartupDelay      = 500 * time.Millisecond
	DefaultSettleDelay       = 1 * time.Second
	DefaultReloadDebounce    = 250 * time.Millisecond
	DefaultRefetchTimeout    = 15 * time.Second
	DefaultReconcileInterval = 5 * time.Minute
	DefaultCurrency          = "KES"
	DefaultLanguage          = "en"
	DefaultNotifyCapacity    = 5
	DefaultNotifyTTL         = 5 * time.Second
	DefaultQueryTimeout      = 15 * time.Second
	DefaultDepositInterval   = 3 * time.Second
	DefaultJoinInterval      = 10 * time.Second
	DefaultJoinMaxAttempts   = 30
	DefaultPaymentLogDriver  = "sqlite"
	DefaultPaymentLogPath    = "arena-sync.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultTransports is the transport preference order.
var DefaultTransports = []string{"websocket", "polling"}

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}

	// Realtime defaults
	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if len(c.Realtime.Transports) == 0 {
		c.Realtime.Transports = append([]string(nil), DefaultTransports...)
	}
	if c.Realtime.WithCredentials == nil {
		on := true
		c.Realtime.WithCredentials = &on
	}
	if c.Realtime.CookieName == "" {
		c.Realtime.CookieName = DefaultCookieName
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Realtime.ReconnectDelayMax == 0 {
		c.Realtime.ReconnectDelayMax = DefaultReconnectDelayMax
	}
	if c.Realtime.ReconnectAttempts == 0 {
		c.Realtime.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Realtime.Timeout == 0 {
		c.Realtime.Timeout = DefaultConnectTimeout
	}
	if c.Realtime.StartupDelay == 0 {
		c.Realtime.StartupDelay = DefaultStartupDelay
	}

	// Reconciler defaults
	if c.Reconciler.SettleDelay == 0 {
		c.Reconciler.SettleDelay = DefaultSettleDelay
	}
	if c.Reconciler.ReloadDebounce == 0 {
		c.Reconciler.ReloadDebounce = DefaultReloadDebounce
	}
	if c.Reconciler.RefetchTimeout == 0 {
		c.Reconciler.RefetchTimeout = DefaultRefetchTimeout
	}
	if c.Reconciler.ReconcileInterval == 0 {
		c.Reconciler.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Reconciler.Currency == "" {
		c.Reconciler.Currency = DefaultCurrency
	}
	if c.Reconciler.Language == "" {
		c.Reconciler.Language = DefaultLanguage
	}

	// Notify defaults
	if c.Notify.Capacity == 0 {
		c.Notify.Capacity = DefaultNotifyCapacity
	}
	if c.Notify.TTL == 0 {
		c.Notify.TTL = DefaultNotifyTTL
	}

	// Payment defaults
	if c.Payment.QueryTimeout == 0 {
		c.Payment.QueryTimeout = DefaultQueryTimeout
	}
	if c.Payment.Deposit.Interval == 0 {
		c.Payment.Deposit.Interval = DefaultDepositInterval
	}
	if c.Payment.Join.Interval == 0 {
		c.Payment.Join.Interval = DefaultJoinInterval
	}
	if c.Payment.Join.MaxAttempts == 0 {
		c.Payment.Join.MaxAttempts = DefaultJoinMaxAttempts
	}

	// Payment log defaults
	if c.PaymentLog.Driver == "" {
		c.PaymentLog.Driver = DefaultPaymentLogDriver
	}
	if c.PaymentLog.Path == "" {
		c.PaymentLog.Path = DefaultPaymentLogPath
	}
	applyDBDefaults(&c.PaymentLog.Postgres)

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
