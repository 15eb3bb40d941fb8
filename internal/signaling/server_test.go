package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
)

type wsTestServer struct {
	url     string
	hub     *Hub
	metrics *metrics.Metrics
}

func startWSServer(t *testing.T, mutate func(*Config)) wsTestServer {
	t.Helper()
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Hub:             NewHub(HubConfig{Metrics: m, Logger: logger}),
		Logger:          logger,
		Metrics:         m,
		MaxMessageBytes: 4096,
		WriteTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return wsTestServer{url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", hub: cfg.Hub, metrics: m}
}

// waitClients blocks until n clients are registered, so broadcasts reach
// everyone that has dialed.
func (s wsTestServer) waitClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Registry().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("registered clients=%d, want %d", s.hub.Registry().Len(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func dialWS(t *testing.T, wsURL string, header http.Header) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", msgType)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func writeChat(t *testing.T, c *websocket.Conn, text string) {
	t.Helper()
	msg := map[string]string{"signal_type": "chat", "payload": chatPayload(text)}
	if err := c.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocket_RelaysBetweenClients(t *testing.T) {
	srv := startWSServer(t, nil)
	a := dialWS(t, srv.url, nil)
	b := dialWS(t, srv.url, nil)
	srv.waitClients(t, 2)

	writeChat(t, a, "hello")
	env := readEnvelope(t, b)
	if env.SignalType != "chat" || env.Payload != chatPayload("hello") {
		t.Fatalf("got %+v, want a's chat", env)
	}
	if env.SenderID == "" || env.SenderIP != "127.0.0.1" {
		t.Fatalf("sender fields=%q/%q", env.SenderID, env.SenderIP)
	}
}

func TestWebSocket_PeerDisconnectedOnClose(t *testing.T) {
	srv := startWSServer(t, nil)
	a := dialWS(t, srv.url, nil)
	b := dialWS(t, srv.url, nil)
	srv.waitClients(t, 2)

	// An answer from a to b's id links them as peers.
	writeChat(t, b, "who")
	bID := readEnvelope(t, a).SenderID
	if err := a.WriteJSON(map[string]string{"signal_type": "answer", "payload": `{"target_id":"` + bID + `"}`}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	answer := readEnvelope(t, b)
	if answer.SignalType != "answer" {
		t.Fatalf("got %s, want answer", answer.SignalType)
	}

	_ = a.Close()
	env := readEnvelope(t, b)
	if env.SignalType != "peer-disconnected" || env.Payload != answer.SenderID {
		t.Fatalf("got %+v, want peer-disconnected for %s", env, answer.SenderID)
	}
}

func TestWebSocket_OversizedMessageCloses(t *testing.T) {
	srv := startWSServer(t, func(cfg *Config) { cfg.MaxMessageBytes = 64 })
	c := dialWS(t, srv.url, nil)

	if err := c.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024))); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("read err=%v, want close %d", err, websocket.CloseMessageTooBig)
	}
}

func TestWebSocket_Auth(t *testing.T) {
	srv := startWSServer(t, func(cfg *Config) {
		v, err := auth.NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "secret"})
		if err != nil {
			t.Fatalf("NewVerifier: %v", err)
		}
		cfg.AuthMode = config.AuthModeAPIKey
		cfg.Auth = v
	})

	_, resp, err := websocket.DefaultDialer.Dial(srv.url, nil)
	if err == nil {
		t.Fatalf("expected dial without credentials to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v, want 401", resp)
	}
	if got := srv.metrics.Get(metrics.AuthFailure); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.AuthFailure, got)
	}

	dialWS(t, srv.url+"?apiKey=secret", nil)
	dialWS(t, srv.url, http.Header{"X-API-Key": []string{"secret"}})
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	srv := startWSServer(t, func(cfg *Config) { cfg.AllowedOrigins = []string{"https://app.example.com"} })

	_, resp, err := websocket.DefaultDialer.Dial(srv.url, http.Header{"Origin": []string{"https://evil.example.com"}})
	if err == nil {
		t.Fatalf("expected disallowed origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	dialWS(t, srv.url, http.Header{"Origin": []string{"https://app.example.com"}})
}

func TestWebSocket_IdleTimeoutClosesWithoutPong(t *testing.T) {
	srv := startWSServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 300 * time.Millisecond
		cfg.PingInterval = 50 * time.Millisecond
	})
	c := dialWS(t, srv.url, nil)

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// No pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}
}

func TestWebSocket_PongKeepsConnectionOpen(t *testing.T) {
	idle := 300 * time.Millisecond
	srv := startWSServer(t, func(cfg *Config) {
		cfg.IdleTimeout = idle
		cfg.PingInterval = 50 * time.Millisecond
	})
	c := dialWS(t, srv.url, nil)

	// The default ping handler answers with a pong, but only while a read is
	// in progress.
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		t.Fatalf("connection closed despite pongs: %v", err)
	case <-time.After(3 * idle):
	}
}

func TestWebSocket_IdleTimeoutWithoutPingIntervalStillPings(t *testing.T) {
	srv := startWSServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 200 * time.Millisecond
		cfg.PingInterval = 0
	})
	c := dialWS(t, srv.url, nil)

	pings := make(chan struct{}, 1)
	c.SetPingHandler(func(appData string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ping with PingInterval unset")
	}
	if got := srv.hub.Registry().Len(); got != 1 {
		t.Fatalf("registered clients=%d, want 1", got)
	}
}

func TestWebSocket_EchoesRequestIDOnHandshake(t *testing.T) {
	srv := startWSServer(t, nil)
	c, resp, err := websocket.DefaultDialer.Dial(srv.url, http.Header{"X-Request-ID": []string{"req-1"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("X-Request-ID=%q, want req-1", got)
	}
}
