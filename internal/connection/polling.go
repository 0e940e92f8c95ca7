package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// handshakeResponse is returned by GET {url}/handshake.
type handshakeResponse struct {
	SID string `json:"sid"`
}

// pollingClient implements Client with HTTP long-polling. It is the fallback
// when a websocket cannot be established.
//
// Protocol:
//
//	GET  {url}/handshake        -> {"sid": "..."}
//	GET  {url}/poll?sid=...     -> [envelope, ...]  (204 when idle)
//	POST {url}/emit?sid=...     <- envelope
type pollingClient struct {
	cfg    ClientConfig
	logger *slog.Logger
	http   *http.Client

	base string

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc

	mu        sync.RWMutex
	sid       string
	connected bool
	closed    bool
}

// NewPollingClient creates a new long-polling client.
func NewPollingClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultClientConfig().PollTimeout
	}

	return &pollingClient{
		cfg:      cfg,
		logger:   logger,
		http:     &http.Client{},
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect performs the handshake and starts the poll loop.
func (c *pollingClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	base, err := httpURL(c.cfg.URL)
	if err != nil {
		return err
	}
	c.base = strings.TrimSuffix(base, "/")

	body, err := c.do(ctx, http.MethodGet, "/handshake", nil)
	if err != nil {
		return err
	}

	var hs handshakeResponse
	if err := json.Unmarshal(body, &hs); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if hs.SID == "" {
		return fmt.Errorf("handshake returned empty sid")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.sid = hs.SID
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.pollLoop(loopCtx)

	c.logger.Debug("polling connected", "url", c.base, "sid", hs.SID)

	return nil
}

// Close stops polling. No error is reported.
func (c *pollingClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	close(c.done)
	if cancel != nil {
		cancel()
	}
	return nil
}

// ForceDisconnect reports ErrForcedDisconnect and stops polling.
func (c *pollingClient) ForceDisconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	c.reportError(ErrForcedDisconnect)

	close(c.done)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Send posts one envelope.
func (c *pollingClient) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	_, err := c.do(ctx, http.MethodPost, "/emit", data)
	return err
}

// Messages returns the messages channel.
func (c *pollingClient) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *pollingClient) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *pollingClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// pollLoop issues back-to-back long-poll requests.
func (c *pollingClient) pollLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		body, err := c.do(reqCtx, http.MethodGet, "/poll", nil)
		cancel()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				// Idle long-poll timed out; poll again.
				continue
			}
			c.reportError(err)
			return
		}

		if len(bytes.TrimSpace(body)) == 0 {
			continue
		}

		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			c.logger.Warn("invalid poll payload", "error", err)
			continue
		}

		for _, raw := range batch {
			select {
			case c.messages <- TimestampedMessage{Data: raw, ReceivedAt: receivedAt}:
			case <-c.done:
				return
			default:
				c.logger.Warn("message buffer full, dropping message")
			}
		}
	}
}

// do performs one request against the polling endpoint.
func (c *pollingClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	target := c.base + path
	c.mu.RLock()
	if c.sid != "" {
		target += "?sid=" + url.QueryEscape(c.sid)
	}
	c.mu.RUnlock()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = c.cfg.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HandshakeError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	return data, nil
}

func (c *pollingClient) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}
