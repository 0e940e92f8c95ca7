package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ClientFactory builds a transport client by name.
type ClientFactory func(transport string, cfg ClientConfig, logger *slog.Logger) (Client, error)

// DefaultClientFactory builds websocket and polling clients.
func DefaultClientFactory(transport string, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	switch transport {
	case TransportWebSocket:
		return NewClient(cfg, logger), nil
	case TransportPolling:
		return NewPollingClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// session is the single live connection owned by the Manager. Handlers are
// registered on the session and survive transport redials; Cleanup discards
// the session together with every handler.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	client      Client
	handlers    map[string]map[uint64]Handler
	nextHandler uint64

	retrying bool // guarded by Manager.mu
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]map[uint64]Handler),
	}
}

func (s *session) addHandler(event string, h Handler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandler++
	id := s.nextHandler
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][id] = h
	return id
}

func (s *session) removeHandler(event string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, ok := s.handlers[event]
	if !ok {
		return
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(s.handlers, event)
	}
}

// handlersFor returns the handlers for event ordered by registration.
func (s *session) handlersFor(event string) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hs := s.handlers[event]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(hs))
	for _, id := range slices.Sorted(maps.Keys(hs)) {
		out = append(out, hs[id])
	}
	return out
}

func (s *session) handlerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

func (s *session) currentClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// swapClient installs c and returns the previous client.
func (s *session) swapClient(c Client) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.client
	s.client = c
	return prev
}

// close cancels the session, drops every handler and closes the transport.
func (s *session) close() {
	s.cancel()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.handlers = make(map[string]map[uint64]Handler)
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// Manager owns zero or one live realtime connection and its lifecycle:
// authenticated initialization, bounded reconnection, event handlers and emits.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient ClientFactory

	initGroup singleflight.Group
	wg        sync.WaitGroup

	mu        sync.Mutex
	state     State
	auth      AuthState
	sess      *session
	listeners map[int]StateListener
	nextLis   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the transport factory.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// NewManager creates a new Manager. It does not connect until Initialize.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Transports) == 0 {
		cfg.Transports = DefaultManagerConfig().Transports
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		newClient: DefaultClientFactory,
		state:     State{Status: StatusDisconnected},
		listeners: make(map[int]StateListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize starts a connection for auth. Without credentials it records
// "Not authenticated" and returns ErrNotAuthenticated. Overlapping calls share
// a single in-flight initialization, so at most one session is ever created.
//
// A transient failure leaves the Manager reconnecting in the background and
// returns nil; auth failures and exhausted retries are returned.
func (m *Manager) Initialize(ctx context.Context, auth AuthState) error {
	if !auth.Authenticated() {
		m.mu.Lock()
		m.auth = auth
		m.state.LastError = ErrNotAuthenticated.Error()
		st := m.state
		listeners := m.listenersLocked()
		m.mu.Unlock()

		notifyState(listeners, st)
		m.logger.Warn("connection not initialized", "reason", ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	_, err, shared := m.initGroup.Do("initialize", func() (any, error) {
		return nil, m.initialize(ctx, auth)
	})
	if shared {
		m.logger.Debug("initialize already in flight, joined")
	}
	return err
}

func (m *Manager) initialize(ctx context.Context, auth AuthState) error {
	m.Cleanup()

	sess := newSession()

	m.mu.Lock()
	m.auth = auth
	m.sess = sess
	m.state = State{Status: StatusConnecting}
	st := m.state
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notifyState(listeners, st)

	if m.cfg.StartupDelay > 0 {
		timer := time.NewTimer(m.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.Cleanup()
			return ctx.Err()
		case <-sess.ctx.Done():
			timer.Stop()
			return ErrSessionClosed
		case <-timer.C:
		}
	}

	return m.connectSession(sess)
}

// Cleanup cancels pending reconnects, removes every handler, closes the
// transport and resets State. Safe to call any number of times.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	changed := m.state != State{Status: StatusDisconnected}
	m.state = State{Status: StatusDisconnected}
	st := m.state
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.close()
		m.logger.Debug("connection cleaned up")
	}
	if changed {
		notifyState(listeners, st)
	}
}

// Shutdown runs Cleanup and waits for background goroutines to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Cleanup()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager shutdown timed out")
		return ctx.Err()
	}
}

// Emit sends event with payload. It returns false without sending when there
// is no connected session; send and encode failures are logged and reported
// as false.
func (m *Manager) Emit(event string, payload any) bool {
	m.mu.Lock()
	sess := m.sess
	connected := m.state.Connected()
	m.mu.Unlock()

	if sess == nil || !connected {
		m.logger.Debug("emit skipped, not connected", "event", event)
		return false
	}

	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		m.logger.Warn("emit encode failed", "event", event, "error", err)
		return false
	}

	client := sess.currentClient()
	if client == nil {
		return false
	}
	if err := client.Send(frame); err != nil {
		m.logger.Warn("emit failed", "event", event, "error", err)
		return false
	}
	return true
}

// MessageUser relays event and data to another user through the server.
func (m *Manager) MessageUser(userID, event string, data any) bool {
	return m.Emit(EventMessageUser, MessageUserPayload{
		UserID: userID,
		Event:  event,
		Data:   data,
	})
}

// Subscribe registers h for event on the live session. The returned function
// removes exactly that handler, even after the session has been replaced.
// Without a session it does nothing and returns a no-op.
func (m *Manager) Subscribe(event string, h Handler) func() {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return func() {}
	}

	id := sess.addHandler(event, h)
	var once sync.Once
	return func() {
		once.Do(func() {
			sess.removeHandler(event, id)
		})
	}
}

// Reconnect is the manual override after failures. It resets the attempt
// counter and redials the live session, or initializes a new one.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.auth.Authenticated() {
		m.state.LastError = ErrNotAuthenticated.Error()
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if m.cfg.ReconnectAttempts > 0 && m.state.ReconnectAttempts >= m.cfg.ReconnectAttempts {
		m.mu.Unlock()
		return ErrMaxAttempts
	}

	m.state.ReconnectAttempts = 0
	sess := m.sess
	auth := m.auth

	if sess == nil {
		m.mu.Unlock()
		return m.Initialize(ctx, auth)
	}

	switch {
	case m.state.Connected(), m.state.Status == StatusConnecting:
		m.mu.Unlock()
		return nil
	case sess.retrying:
		// The running retry loop picks up the reset counter.
		m.mu.Unlock()
		return nil
	}

	m.state.Status = StatusReconnecting
	st := m.state
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notifyState(listeners, st)
	m.logger.Info("manual reconnect requested")

	return m.connectSession(sess)
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandlerCount returns the number of handlers on the live session.
func (m *Manager) HandlerCount() int {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.handlerCount()
}

// AddStateListener registers fn for every state transition.
func (m *Manager) AddStateListener(fn StateListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLis++
	id := m.nextLis
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// connectSession dials once. A transient failure starts the retry loop and
// returns nil; terminal failures are returned.
func (m *Manager) connectSession(sess *session) error {
	err := m.dial(sess)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionClosed) {
		return err
	}

	retry, terminal := m.recordFailure(sess, err)
	if retry {
		m.startRetry(sess)
		return nil
	}
	return terminal
}

// dial tries each transport in preference order and installs the first that
// connects. Auth failures stop the fallback chain.
func (m *Manager) dial(sess *session) error {
	m.mu.Lock()
	auth := m.auth
	m.mu.Unlock()

	clientCfg := m.clientConfig(auth)

	var lastErr error = ErrNoTransport
	for _, transport := range m.cfg.Transports {
		if sess.ctx.Err() != nil {
			return ErrSessionClosed
		}

		logger := m.logger.With("transport", transport)
		client, err := m.newClient(transport, clientCfg, logger)
		if err != nil {
			lastErr = err
			continue
		}

		ctx := sess.ctx
		cancel := func() {}
		if m.cfg.Timeout > 0 {
			ctx, cancel = context.WithTimeout(sess.ctx, m.cfg.Timeout)
		}
		err = client.Connect(ctx)
		cancel()

		if err != nil {
			client.Close()
			if sess.ctx.Err() != nil {
				return ErrSessionClosed
			}
			logger.Warn("connect attempt failed", "error", err)
			lastErr = err
			if IsAuthError(err) {
				return err
			}
			continue
		}

		return m.attach(sess, client, transport)
	}

	return lastErr
}

// attach makes client the live transport of sess and marks the state connected.
func (m *Manager) attach(sess *session, client Client, transport string) error {
	m.mu.Lock()
	if m.sess != sess || sess.ctx.Err() != nil {
		m.mu.Unlock()
		client.Close()
		return ErrSessionClosed
	}

	prev := sess.swapClient(client)

	// A drop on this client must be able to start a fresh retry loop, even
	// while the loop that dialed it is still unwinding.
	sess.retrying = false

	m.state = State{
		Status:       StatusConnected,
		ConnectionID: uuid.NewString(),
	}
	st := m.state
	listeners := m.listenersLocked()

	m.wg.Add(1)
	go m.readLoop(sess, client)
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	m.logger.Info("connected",
		"transport", transport,
		"connection_id", st.ConnectionID,
	)
	notifyState(listeners, st)

	return nil
}

// recordFailure classifies err and updates State. It reports whether another
// automatic attempt should follow, or the terminal error otherwise.
func (m *Manager) recordFailure(sess *session, err error) (bool, error) {
	m.mu.Lock()
	if m.sess != sess || sess.ctx.Err() != nil {
		m.mu.Unlock()
		return false, ErrSessionClosed
	}

	var terminal error
	retry := false

	switch {
	case IsAuthError(err):
		m.state.Status = StatusFailed
		m.state.LastError = err.Error()
		terminal = err

	default:
		m.state.ReconnectAttempts++
		m.state.LastError = err.Error()

		if m.cfg.ReconnectAttempts > 0 && m.state.ReconnectAttempts >= m.cfg.ReconnectAttempts {
			m.state.Status = StatusFailed
			m.state.LastError = ErrRetriesExhausted.Error()
			terminal = fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		} else if m.cfg.Reconnection {
			m.state.Status = StatusReconnecting
			retry = true
		} else {
			m.state.Status = StatusDisconnected
			terminal = err
		}
	}

	st := m.state
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if IsAuthError(err) {
		m.logger.Error("connection rejected, not retrying", "error", err)
	} else {
		m.logger.Warn("connection failed",
			"attempt", st.ReconnectAttempts,
			"max_attempts", m.cfg.ReconnectAttempts,
			"error", err,
		)
	}
	notifyState(listeners, st)

	return retry, terminal
}

// startRetry launches the retry loop unless one is already running.
func (m *Manager) startRetry(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.retrying || m.sess != sess || sess.ctx.Err() != nil {
		return
	}
	sess.retrying = true

	m.wg.Add(1)
	go m.retryLoop(sess)
}

// retryLoop redials with exponential backoff until connected, a terminal
// failure, or session close.
//
// On success attach has already cleared sess.retrying; every other exit
// clears it here.
func (m *Manager) retryLoop(sess *session) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		attempts := m.state.ReconnectAttempts
		m.mu.Unlock()

		wait := m.backoff(attempts)
		timer := time.NewTimer(wait)
		select {
		case <-sess.ctx.Done():
			timer.Stop()
			m.endRetry(sess)
			return
		case <-timer.C:
		}

		m.logger.Info("attempting reconnection", "attempt", attempts+1, "wait", wait)

		err := m.dial(sess)
		if err == nil {
			return
		}
		if errors.Is(err, ErrSessionClosed) {
			m.endRetry(sess)
			return
		}
		if retry, _ := m.recordFailure(sess, err); !retry {
			m.endRetry(sess)
			return
		}
	}
}

func (m *Manager) endRetry(sess *session) {
	m.mu.Lock()
	sess.retrying = false
	m.mu.Unlock()
}

// backoff returns the delay before attempt n+1: ReconnectDelay doubled per
// failed attempt, capped at ReconnectDelayMax.
func (m *Manager) backoff(attempts int) time.Duration {
	wait := m.cfg.ReconnectDelay
	if wait <= 0 {
		wait = DefaultManagerConfig().ReconnectDelay
	}
	maxWait := m.cfg.ReconnectDelayMax
	if maxWait < wait {
		maxWait = wait
	}

	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= maxWait {
			return maxWait
		}
	}
	return wait
}

// readLoop dispatches inbound envelopes in delivery order until the client
// drops or the session closes.
func (m *Manager) readLoop(sess *session, client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-sess.ctx.Done():
			return

		case err := <-client.Errors():
			m.handleDrop(sess, client, err)
			return

		case msg := <-client.Messages():
			m.dispatch(sess, msg)
		}
	}
}

// handleDrop reacts to a server-initiated disconnect.
func (m *Manager) handleDrop(sess *session, client Client, err error) {
	client.Close()

	m.mu.Lock()
	if m.sess != sess || sess.ctx.Err() != nil || sess.currentClient() != client {
		m.mu.Unlock()
		return
	}

	m.state.ConnectionID = ""
	m.state.LastError = err.Error()
	if m.cfg.Reconnection {
		m.state.Status = StatusReconnecting
	} else {
		m.state.Status = StatusDisconnected
	}
	st := m.state
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("connection dropped", "error", err, "reconnecting", m.cfg.Reconnection)
	notifyState(listeners, st)

	if m.cfg.Reconnection {
		m.startRetry(sess)
	}
}

// dispatch decodes one envelope and calls its handlers.
func (m *Manager) dispatch(sess *session, msg TimestampedMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		m.logger.Warn("invalid envelope", "error", err, "len", len(msg.Data))
		return
	}
	if env.Event == "" {
		m.logger.Warn("envelope without event name")
		return
	}

	handlers := sess.handlersFor(env.Event)
	if len(handlers) == 0 {
		m.logger.Debug("no handler for event", "event", env.Event)
		return
	}

	for _, h := range handlers {
		m.invoke(env.Event, h, env.Data)
	}
}

func (m *Manager) invoke(event string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(data)
}

func (m *Manager) clientConfig(auth AuthState) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = m.cfg.URL
	cfg.Token = auth.Token
	cfg.WithCredentials = m.cfg.WithCredentials
	if m.cfg.CookieName != "" {
		cfg.CookieName = m.cfg.CookieName
	}
	cfg.UserAgent = m.cfg.UserAgent
	if m.cfg.Timeout > 0 {
		cfg.HandshakeTimeout = m.cfg.Timeout
	}
	if m.cfg.BufferSize > 0 {
		cfg.BufferSize = m.cfg.BufferSize
	}
	return cfg
}

func (m *Manager) listenersLocked() []StateListener {
	out := make([]StateListener, 0, len(m.listeners))
	for _, id := range slices.Sorted(maps.Keys(m.listeners)) {
		out = append(out, m.listeners[id])
	}
	return out
}

func notifyState(listeners []StateListener, st State) {
	for _, l := range listeners {
		l(st)
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
