package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoTransport     = errors.New("no transport configured")

	// ErrForcedDisconnect is reported by ForceDisconnect.
	ErrForcedDisconnect = errors.New("forced disconnect")

	// Messages below are surfaced verbatim in State.LastError.
	ErrNotAuthenticated = errors.New("Not authenticated")
	ErrMaxAttempts      = errors.New("Max reconnection attempts reached")
	ErrRetriesExhausted = errors.New("Failed to connect after multiple attempts")
)

// authPattern classifies transport errors as authentication failures.
var authPattern = regexp.MustCompile(`(?i)auth`)

// HandshakeError is returned when the server rejects the connection handshake
// with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err means the credentials were refused.
// Auth errors are never retried automatically.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var hs *HandshakeError
	if errors.As(err, &hs) && (hs.StatusCode == http.StatusUnauthorized || hs.StatusCode == http.StatusForbidden) {
		return true
	}
	return authPattern.MatchString(err.Error())
}

// Status is the lifecycle state of the managed connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// State is the observable connection state.
type State struct {
	Status            Status `json:"status"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastError         string `json:"lastError,omitempty"`
	ConnectionID      string `json:"connectionId,omitempty"` // Assigned per successful connect
}

// Connected reports whether the state is StatusConnected.
func (s State) Connected() bool {
	return s.Status == StatusConnected
}

// AuthState carries the credentials supplied by the auth collaborator.
type AuthState struct {
	UserID string
	Token  string
}

// Authenticated reports whether credentials are present.
func (a AuthState) Authenticated() bool {
	return a.Token != ""
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw envelope bytes
	ReceivedAt time.Time // Local timestamp when the transport returned it
}

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// StateListener observes state transitions.
type StateListener func(State)

// Outbound event names.
const (
	EventSubscribeCompetition   = "subscribe:competition"
	EventUnsubscribeCompetition = "unsubscribe:competition"
	EventMessageUser            = "message_user"
)

// MessageUserPayload is the body of a message_user emit.
type MessageUserPayload struct {
	UserID string `json:"userId"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// Transport names, in the order they are usually preferred.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// ClientConfig configures a single transport client.
type ClientConfig struct {
	URL              string        // Endpoint; ws(s):// or http(s):// are both accepted
	Token            string        // Bearer token (empty = anonymous)
	WithCredentials  bool          // Also send the token as a cookie
	CookieName       string        // Cookie carrying the token when WithCredentials is set
	UserAgent        string        // User-Agent header
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	PingInterval     time.Duration // How often keepalive pings are sent
	WriteTimeout     time.Duration // Write deadline for sends
	PollTimeout      time.Duration // Long-poll request timeout (polling transport)
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		CookieName:       "token",
		HandshakeTimeout: 20 * time.Second,
		PingTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		WriteTimeout:     5 * time.Second,
		PollTimeout:      30 * time.Second,
		BufferSize:       1000,
	}
}

// header builds handshake headers carrying the credentials.
func (c ClientConfig) header() http.Header {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
		if c.WithCredentials && c.CookieName != "" {
			header.Set("Cookie", (&http.Cookie{Name: c.CookieName, Value: c.Token}).String())
		}
	}
	return header
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	URL               string        // Realtime endpoint base URL
	Transports        []string      // Preference order, e.g. websocket then polling
	WithCredentials   bool          // Send credentials as cookie too
	CookieName        string        // Cookie name for WithCredentials
	UserAgent         string        // User-Agent for every transport
	Reconnection      bool          // Retry automatically after a server-initiated drop
	ReconnectDelay    time.Duration // First retry delay
	ReconnectDelayMax time.Duration // Retry delay cap
	ReconnectAttempts int           // Max consecutive failed attempts
	Timeout           time.Duration // Per-attempt connect timeout
	StartupDelay      time.Duration // Wait before the first attempt so upstream auth can settle
	BufferSize        int           // Per-transport inbound buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Transports:        []string{TransportWebSocket, TransportPolling},
		WithCredentials:   true,
		CookieName:        "token",
		Reconnection:      true,
		ReconnectDelay:    1 * time.Second,
		ReconnectDelayMax: 5 * time.Second,
		ReconnectAttempts: 5,
		Timeout:           20 * time.Second,
		StartupDelay:      500 * time.Millisecond,
		BufferSize:        1000,
	}
}

// wsURL rewrites http(s) URLs to the matching ws(s) scheme.
func wsURL(raw string) (string, error) {
	return rewriteScheme(raw, map[string]string{"http": "ws", "https": "wss", "ws": "ws", "wss": "wss"})
}

// httpURL rewrites ws(s) URLs to the matching http(s) scheme.
func httpURL(raw string) (string, error) {
	return rewriteScheme(raw, map[string]string{"ws": "http", "wss": "https", "http": "http", "https": "https"})
}

func rewriteScheme(raw string, schemes map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme, ok := schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Scheme = scheme
	return u.String(), nil
}
