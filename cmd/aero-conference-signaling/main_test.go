package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/httpserver"
)

func TestNewServer_WiresSignalingAndMetrics(t *testing.T) {
	cfg := config.Config{
		ListenAddr:               "127.0.0.1:0",
		LogFormat:                config.LogFormatText,
		LogLevel:                 slog.LevelInfo,
		ShutdownTimeout:          2 * time.Second,
		Mode:                     config.ModeDev,
		AuthMode:                 config.AuthModeNone,
		SendQueueMessages:        config.DefaultSendQueueMessages,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
		SignalingWSWriteTimeout:  time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := newServer(cfg, logger, httpserver.BuildInfo{})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})
	base := "http://" + ln.Addr().String()

	c, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer c.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols || resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("handshake status=%d request id=%q", resp.StatusCode, resp.Header.Get("X-Request-ID"))
	}

	// The connect counter shows up once the hub has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			t.Fatalf("get /metrics: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(body), `aero_conference_signaling_events_total{event="client_connected"} 1`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("client_connected never reported:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewServer_RejectsBadAuthConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := newServer(config.Config{AuthMode: "bogus"}, logger, httpserver.BuildInfo{}); err == nil {
		t.Fatalf("expected error for unsupported auth mode")
	}
}
