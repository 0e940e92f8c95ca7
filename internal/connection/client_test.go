package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func serverURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		PingTimeout:      30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       100,
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_ConnectHTTPSchemeRewritten(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	// http:// base URLs are accepted and dialed as ws://
	client := NewClient(testClientConfig(server.URL), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()
}

func TestClient_SendsCredentials(t *testing.T) {
	var gotAuth, gotCookie string
	var mu sync.Mutex

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		if c, err := r.Cookie("token"); err == nil {
			gotCookie = c.Value
		}
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(serverURL(server))
	cfg.Token = "secret"
	cfg.WithCredentials = true
	cfg.CookieName = "token"

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
	if gotCookie != "secret" {
		t.Errorf("cookie token = %q, want %q", gotCookie, "secret")
	}
}

func TestClient_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake error")
	}

	var hs *HandshakeError
	if !errors.As(err, &hs) {
		t.Fatalf("error = %T, want *HandshakeError", err)
	}
	if hs.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want %d", hs.StatusCode, http.StatusUnauthorized)
	}
	if !IsAuthError(err) {
		t.Error("expected 401 to classify as auth error")
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"event":"ping"}`)
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received = %s, want %s", received, testMsg)
	}
}

func TestClient_Messages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"new_invite","data":{}}`))
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case msg := <-client.Messages():
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Event != "new_invite" {
			t.Errorf("Event = %q, want %q", env.Event, "new_invite")
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("expected ReceivedAt to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestClient_ServerCloseReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Close immediately from the server side.
	})
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:1"), nil)

	if err := client.Send([]byte("test")); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_CloseDoesNotReportError(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()

	select {
	case err := <-client.Errors():
		t.Errorf("unexpected error after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ForceDisconnect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(serverURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.ForceDisconnect()

	select {
	case err := <-client.Errors():
		if err != ErrForcedDisconnect {
			t.Errorf("error = %v, want ErrForcedDisconnect", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forced disconnect error")
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"401", &HandshakeError{StatusCode: http.StatusUnauthorized}, true},
		{"403", &HandshakeError{StatusCode: http.StatusForbidden}, true},
		{"500", &HandshakeError{StatusCode: http.StatusInternalServerError}, false},
		{"message", errors.New("Authentication error: token expired"), true},
		{"wrapped", errors.New("connect: invalid auth token"), true},
		{"refused", errors.New("dial tcp: connection refused"), false},
		{"timeout", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestURLRewrite(t *testing.T) {
	tests := []struct {
		in     string
		wantWS string
		wantHT string
	}{
		{"https://api.example.com/rt", "wss://api.example.com/rt", "https://api.example.com/rt"},
		{"http://localhost:3000", "ws://localhost:3000", "http://localhost:3000"},
		{"wss://api.example.com", "wss://api.example.com", "https://api.example.com"},
	}

	for _, tt := range tests {
		gotWS, err := wsURL(tt.in)
		if err != nil {
			t.Fatalf("wsURL(%q): %v", tt.in, err)
		}
		if gotWS != tt.wantWS {
			t.Errorf("wsURL(%q) = %q, want %q", tt.in, gotWS, tt.wantWS)
		}
		gotHT, err := httpURL(tt.in)
		if err != nil {
			t.Fatalf("httpURL(%q): %v", tt.in, err)
		}
		if gotHT != tt.wantHT {
			t.Errorf("httpURL(%q) = %q, want %q", tt.in, gotHT, tt.wantHT)
		}
	}

	if _, err := wsURL("ftp://example.com"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestDefaultConfigs(t *testing.T) {
	mc := DefaultManagerConfig()
	if mc.ReconnectDelay != time.Second {
		t.Errorf("ReconnectDelay = %v, want 1s", mc.ReconnectDelay)
	}
	if mc.ReconnectDelayMax != 5*time.Second {
		t.Errorf("ReconnectDelayMax = %v, want 5s", mc.ReconnectDelayMax)
	}
	if mc.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", mc.ReconnectAttempts)
	}
	if mc.Timeout != 20*time.Second {
		t.Errorf("Timeout = %v, want 20s", mc.Timeout)
	}
	if mc.StartupDelay != 500*time.Millisecond {
		t.Errorf("StartupDelay = %v, want 500ms", mc.StartupDelay)
	}
	if !mc.Reconnection || !mc.WithCredentials {
		t.Error("expected reconnection and credentials enabled")
	}
	if len(mc.Transports) != 2 || mc.Transports[0] != TransportWebSocket || mc.Transports[1] != TransportPolling {
		t.Errorf("Transports = %v, want [websocket polling]", mc.Transports)
	}
}
