package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeClient is an in-memory Client driven by the test.
type fakeClient struct {
	connectErr error

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 16),
		errors:     make(chan error, 1),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) ForceDisconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	select {
	case c.errors <- ErrForcedDisconnect:
	default:
	}
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) sentEnvelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal sent frame: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeClient) deliver(event string, data string) {
	raw, _ := json.Marshal(Envelope{Event: event, Data: json.RawMessage(data)})
	c.messages <- TimestampedMessage{Data: raw, ReceivedAt: time.Now()}
}

// fakeFactory records every client it builds. errFor decides the connect
// error for the nth dial (0-based) on a transport.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	dials   map[string]int
	errFor  func(transport string, n int) error
}

func newFakeFactory(errFor func(transport string, n int) error) *fakeFactory {
	if errFor == nil {
		errFor = func(string, int) error { return nil }
	}
	return &fakeFactory{dials: make(map[string]int), errFor: errFor}
}

func (f *fakeFactory) build(transport string, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.dials[transport]
	f.dials[transport]++
	c := newFakeClient(f.errFor(transport, n))
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = "ws://realtime.test"
	cfg.Transports = []string{TransportWebSocket}
	cfg.ReconnectDelay = time.Millisecond
	cfg.ReconnectDelayMax = 5 * time.Millisecond
	cfg.Timeout = time.Second
	cfg.StartupDelay = 0
	return cfg
}

var testAuth = AuthState{UserID: "u1", Token: "tok"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestManager_InitializeNotAuthenticated(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))

	err := m.Initialize(context.Background(), AuthState{UserID: "u1"})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Initialize = %v, want ErrNotAuthenticated", err)
	}

	st := m.State()
	if st.Status != StatusDisconnected {
		t.Errorf("Status = %s, want %s", st.Status, StatusDisconnected)
	}
	if st.LastError != "Not authenticated" {
		t.Errorf("LastError = %q, want %q", st.LastError, "Not authenticated")
	}
	if factory.total() != 0 {
		t.Errorf("dials = %d, want 0", factory.total())
	}
}

func TestManager_ConnectDispatchAndEmit(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	st := m.State()
	if !st.Connected() {
		t.Fatalf("Status = %s, want connected", st.Status)
	}
	if st.ConnectionID == "" {
		t.Error("expected ConnectionID to be set")
	}
	if st.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", st.ReconnectAttempts)
	}

	var mu sync.Mutex
	var order []string
	m.Subscribe("new_invite", func(data json.RawMessage) {
		mu.Lock()
		order = append(order, "first:"+string(data))
		mu.Unlock()
	})
	m.Subscribe("new_invite", func(data json.RawMessage) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	client := factory.last()
	client.deliver("new_invite", `{"inviteId":"i1"}`)

	waitFor(t, "handlers", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	if order[0] != `first:{"inviteId":"i1"}` || order[1] != "second" {
		t.Errorf("handler order = %v", order)
	}
	mu.Unlock()

	if !m.Emit(EventSubscribeCompetition, "c1") {
		t.Fatal("Emit returned false while connected")
	}
	if !m.MessageUser("u2", "friend_request_received", map[string]string{"from": "u1"}) {
		t.Fatal("MessageUser returned false while connected")
	}

	sent := client.sentEnvelopes(t)
	if len(sent) != 2 {
		t.Fatalf("sent = %d frames, want 2", len(sent))
	}
	if sent[0].Event != EventSubscribeCompetition || string(sent[0].Data) != `"c1"` {
		t.Errorf("sent[0] = %+v", sent[0])
	}
	var relay MessageUserPayload
	if err := json.Unmarshal(sent[1].Data, &relay); err != nil {
		t.Fatalf("unmarshal relay: %v", err)
	}
	if sent[1].Event != EventMessageUser || relay.UserID != "u2" || relay.Event != "friend_request_received" {
		t.Errorf("relay = %s %+v", sent[1].Event, relay)
	}
}

func TestManager_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var calls atomic.Int32
	m.Subscribe("boom", func(json.RawMessage) { panic("handler bug") })
	m.Subscribe("boom", func(json.RawMessage) { calls.Add(1) })

	client := factory.last()
	client.deliver("boom", `{}`)
	client.deliver("boom", `{}`)

	waitFor(t, "second handler", func() bool { return calls.Load() == 2 })
}

func TestManager_ConcurrentInitializeSingleConnection(t *testing.T) {
	cfg := testManagerConfig()
	cfg.StartupDelay = 50 * time.Millisecond

	factory := newFakeFactory(nil)
	m := NewManager(cfg, nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := m.Initialize(context.Background(), testAuth); err != nil {
				t.Errorf("Initialize failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := factory.total(); got != 1 {
		t.Errorf("connections created = %d, want 1", got)
	}
	if !m.State().Connected() {
		t.Errorf("Status = %s, want connected", m.State().Status)
	}
}

func TestManager_CleanupIdempotent(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))

	var transitions atomic.Int32
	m.AddStateListener(func(State) { transitions.Add(1) })

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	m.Subscribe("new_invite", func(json.RawMessage) {})

	m.Cleanup()
	afterFirst := transitions.Load()
	m.Cleanup()
	m.Cleanup()

	if got := transitions.Load(); got != afterFirst {
		t.Errorf("repeated Cleanup emitted %d extra transitions", got-afterFirst)
	}
	if st := m.State(); st != (State{Status: StatusDisconnected}) {
		t.Errorf("State = %+v, want zeroed disconnected", st)
	}
	if n := m.HandlerCount(); n != 0 {
		t.Errorf("HandlerCount = %d, want 0", n)
	}
	if !factory.last().isClosed() {
		t.Error("expected transport to be closed")
	}
	if m.Emit("anything", nil) {
		t.Error("Emit after Cleanup returned true")
	}
	shutdown(t, m)
}

func TestManager_AuthFailureNotRetried(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Transports = []string{TransportWebSocket, TransportPolling}

	factory := newFakeFactory(func(string, int) error {
		return &HandshakeError{StatusCode: http.StatusUnauthorized}
	})
	m := NewManager(cfg, nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	err := m.Initialize(context.Background(), testAuth)
	if !IsAuthError(err) {
		t.Fatalf("Initialize = %v, want auth error", err)
	}

	time.Sleep(20 * time.Millisecond)

	st := m.State()
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, StatusFailed)
	}
	if st.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", st.ReconnectAttempts)
	}
	// Auth errors stop the transport fallback chain too.
	if got := factory.total(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_RetriesExhausted(t *testing.T) {
	factory := newFakeFactory(func(string, int) error {
		return errors.New("dial tcp: connection refused")
	})
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize = %v, want nil while retries are scheduled", err)
	}

	waitFor(t, "failed state", func() bool { return m.State().Status == StatusFailed })

	st := m.State()
	if st.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", st.ReconnectAttempts)
	}
	if st.LastError != "Failed to connect after multiple attempts" {
		t.Errorf("LastError = %q", st.LastError)
	}

	// No sixth automatic attempt.
	time.Sleep(30 * time.Millisecond)
	if got := factory.total(); got != 5 {
		t.Errorf("dials = %d, want 5", got)
	}

	if err := m.Reconnect(context.Background()); !errors.Is(err, ErrMaxAttempts) {
		t.Errorf("Reconnect = %v, want ErrMaxAttempts", err)
	}
	if got := factory.total(); got != 5 {
		t.Errorf("dials after rejected Reconnect = %d, want 5", got)
	}

	// A fresh Initialize starts over.
	factory.mu.Lock()
	factory.errFor = func(string, int) error { return nil }
	factory.mu.Unlock()

	m.Cleanup()
	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize after Cleanup failed: %v", err)
	}
	if st := m.State(); !st.Connected() || st.ReconnectAttempts != 0 {
		t.Errorf("State = %+v, want connected with 0 attempts", st)
	}
}

func TestManager_EmitNotConnected(t *testing.T) {
	m := NewManager(testManagerConfig(), nil, WithClientFactory(newFakeFactory(nil).build))

	if m.Emit(EventSubscribeCompetition, "c1") {
		t.Error("Emit without a session returned true")
	}
	if m.MessageUser("u2", "ping", nil) {
		t.Error("MessageUser without a session returned true")
	}
}

func TestManager_SubscribeWithoutSession(t *testing.T) {
	m := NewManager(testManagerConfig(), nil, WithClientFactory(newFakeFactory(nil).build))

	unsub := m.Subscribe("new_invite", func(json.RawMessage) {})
	unsub()
	if n := m.HandlerCount(); n != 0 {
		t.Errorf("HandlerCount = %d, want 0", n)
	}
}

func TestManager_UnsubscribeAfterSessionReplaced(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	stale := m.Subscribe("new_invite", func(json.RawMessage) {})

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	m.Subscribe("new_invite", func(json.RawMessage) {})

	stale()
	stale()

	if n := m.HandlerCount(); n != 1 {
		t.Errorf("HandlerCount = %d, want 1", n)
	}
}

func TestManager_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	h := func(json.RawMessage) {}
	first := m.Subscribe("new_invite", h)
	m.Subscribe("new_invite", h)

	first()
	if n := m.HandlerCount(); n != 1 {
		t.Errorf("HandlerCount = %d, want 1", n)
	}
}

func TestManager_DropReconnectsAndKeepsHandlers(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	var states []Status
	var mu sync.Mutex
	m.AddStateListener(func(st State) {
		mu.Lock()
		states = append(states, st.Status)
		mu.Unlock()
	})

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	firstID := m.State().ConnectionID

	var got atomic.Int32
	m.Subscribe("invite_accepted", func(json.RawMessage) { got.Add(1) })

	first := factory.last()
	first.ForceDisconnect()

	waitFor(t, "redial", func() bool {
		return factory.total() == 2 && m.State().Connected()
	})

	if id := m.State().ConnectionID; id == firstID || id == "" {
		t.Errorf("ConnectionID = %q, want a new id", id)
	}

	factory.last().deliver("invite_accepted", `{}`)
	waitFor(t, "handler after redial", func() bool { return got.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	sawReconnecting := false
	for _, s := range states {
		if s == StatusReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("states = %v, want a reconnecting transition", states)
	}
}

func TestManager_DropDuringConnectedListenerRetries(t *testing.T) {
	factory := newFakeFactory(nil)
	build := func(transport string, cfg ClientConfig, logger *slog.Logger) (Client, error) {
		c, err := factory.build(transport, cfg, logger)
		// The redialed client drops as soon as its read loop starts.
		if factory.total() == 2 {
			c.(*fakeClient).errors <- ErrForcedDisconnect
		}
		return c, err
	}

	m := NewManager(testManagerConfig(), nil, WithClientFactory(build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Slow Connected listener, like the registry re-emitting every room.
	m.AddStateListener(func(st State) {
		if st.Connected() {
			time.Sleep(50 * time.Millisecond)
		}
	})

	factory.last().ForceDisconnect()

	waitFor(t, "third dial and reconnect", func() bool {
		return factory.total() >= 3 && m.State().Connected()
	})

	if st := m.State(); st.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", st.ReconnectAttempts)
	}
}

func TestManager_ReconnectNotAuthenticated(t *testing.T) {
	m := NewManager(testManagerConfig(), nil, WithClientFactory(newFakeFactory(nil).build))

	if err := m.Reconnect(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Reconnect = %v, want ErrNotAuthenticated", err)
	}
	if st := m.State(); st.LastError != "Not authenticated" {
		t.Errorf("LastError = %q, want %q", st.LastError, "Not authenticated")
	}
}

func TestManager_ReconnectWithoutSessionInitializes(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	m.Cleanup()

	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if !m.State().Connected() {
		t.Errorf("Status = %s, want connected", m.State().Status)
	}
	if got := factory.total(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestManager_ReconnectWhileConnectedIsNoop(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(testManagerConfig(), nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if got := factory.total(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_FallsBackToPolling(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Transports = []string{TransportWebSocket, TransportPolling}

	factory := newFakeFactory(func(transport string, n int) error {
		if transport == TransportWebSocket {
			return errors.New("websocket: bad handshake")
		}
		return nil
	})
	m := NewManager(cfg, nil, WithClientFactory(factory.build))
	defer shutdown(t, m)

	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !m.State().Connected() {
		t.Fatalf("Status = %s, want connected", m.State().Status)
	}

	factory.mu.Lock()
	ws, polling := factory.dials[TransportWebSocket], factory.dials[TransportPolling]
	factory.mu.Unlock()
	if ws != 1 || polling != 1 {
		t.Errorf("dials websocket=%d polling=%d, want 1 and 1", ws, polling)
	}
}

func TestManager_EndToEndWebSocket(t *testing.T) {
	received := make(chan Envelope, 4)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"competition_started","data":{"competitionId":"c1"}}`))
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(raw, &env) == nil {
				received <- env
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig()
	cfg.URL = server.URL
	m := NewManager(cfg, nil)
	defer shutdown(t, m)

	started := make(chan json.RawMessage, 1)
	if err := m.Initialize(context.Background(), testAuth); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	m.Subscribe("competition_started", func(data json.RawMessage) { started <- data })

	if !m.Emit(EventSubscribeCompetition, "c1") {
		t.Fatal("Emit returned false")
	}

	select {
	case env := <-received:
		if env.Event != EventSubscribeCompetition {
			t.Errorf("server received %q, want %q", env.Event, EventSubscribeCompetition)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for emitted frame")
	}

	// The greeting may race the Subscribe call; only check it when it arrives.
	select {
	case data := <-started:
		if string(data) != `{"competitionId":"c1"}` {
			t.Errorf("data = %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(ManagerConfig{
		ReconnectDelay:    time.Second,
		ReconnectDelayMax: 5 * time.Second,
	}, nil)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{9, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := m.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
