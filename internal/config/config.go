package config

import "time"

// Config is the root configuration for an arena-sync client.
type Config struct {
	User       UserConfig       `yaml:"user"`
	API        APIConfig        `yaml:"api"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Notify     NotifyConfig     `yaml:"notify"`
	Payment    PaymentConfig    `yaml:"payment"`
	PaymentLog PaymentLogConfig `yaml:"payment_log"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// UserConfig identifies the signed-in user.
type UserConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"` // Bearer token for REST and realtime
}

// APIConfig holds REST API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit"` // Requests per second; 0 disables limiting
	RateBurst  int           `yaml:"rate_burst"`
}

// RealtimeConfig holds realtime connection settings.
type RealtimeConfig struct {
	URL               string        `yaml:"url"`
	Transports        []string      `yaml:"transports"`
	WithCredentials   *bool         `yaml:"with_credentials"`
	CookieName        string        `yaml:"cookie_name"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax time.Duration `yaml:"reconnect_delay_max"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	Timeout           time.Duration `yaml:"timeout"`
	StartupDelay      time.Duration `yaml:"startup_delay"`
}

// ReconcilerConfig holds event reconciliation settings.
type ReconcilerConfig struct {
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ReloadDebounce    time.Duration `yaml:"reload_debounce"`
	RefetchTimeout    time.Duration `yaml:"refetch_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // Periodic full reload
	Currency          string        `yaml:"currency"`
	Language          string        `yaml:"language"` // BCP 47 tag for number formatting
}

// NotifyConfig holds notification queue settings.
type NotifyConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// PaymentConfig holds payment confirmation settings.
type PaymentConfig struct {
	Phone        string        `yaml:"phone"` // Default payer phone for the deposit command
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Deposit      PollConfig    `yaml:"deposit"`
	Join         PollConfig    `yaml:"join"`
}

// PollConfig holds the polling cadence for one payment purpose.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 polls until a final status
}

// PaymentLogConfig selects where payment attempts are recorded.
type PaymentLogConfig struct {
	Driver   string   `yaml:"driver"` // none | sqlite | postgres
	Path     string   `yaml:"path"`   // SQLite file
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the local status endpoint settings.
type HealthConfig struct {
	Addr string `yaml:"addr"` // Empty disables the server
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}
