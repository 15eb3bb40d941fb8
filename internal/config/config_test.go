package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(lookupMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("AuthMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if cfg.SendQueueMessages != DefaultSendQueueMessages {
		t.Fatalf("SendQueueMessages=%d, want %d", cfg.SendQueueMessages, DefaultSendQueueMessages)
	}
	if cfg.MaxClients != 0 {
		t.Fatalf("MaxClients=%d, want 0", cfg.MaxClients)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout || cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("keepalive=%v/%v, want %v/%v", cfg.SignalingWSIdleTimeout, cfg.SignalingWSPingInterval, DefaultSignalingWSIdleTimeout, DefaultSignalingWSPingInterval)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if len(cfg.AllowedOrigins) != 0 || len(cfg.ICEServers) != 0 || cfg.TURNREST.Enabled() {
		t.Fatalf("expected empty origins/ICE/TURN REST, got %+v", cfg)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:        "0.0.0.0:1",
		envVarSendQueueMessages: "8",
		envVarMaxClients:        "3",
		envVarLogLevel:          "warn",
	}), []string{"--listen-addr", "127.0.0.1:9", "--max-clients", "5"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9" {
		t.Fatalf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxClients != 5 {
		t.Fatalf("MaxClients=%d, want 5", cfg.MaxClients)
	}
	if cfg.SendQueueMessages != 8 {
		t.Fatalf("SendQueueMessages=%d, want 8", cfg.SendQueueMessages)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelWarn)
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "HTTPS://Example.COM:443, http://localhost:5173 ,*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*"}
	if strings.Join(cfg.AllowedOrigins, " ") != strings.Join(want, " ") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}

	if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "example.com"}), nil); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
}

func TestAuthModeRequiresSecret(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "api_key"}), nil); err == nil {
		t.Fatalf("expected error for api_key without %s", envVarAPIKey)
	}
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "jwt"}), nil); err == nil {
		t.Fatalf("expected error for jwt without %s", envVarJWTSecret)
	}
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "oauth"}), nil); err == nil {
		t.Fatalf("expected error for unknown auth mode")
	}

	cfg, err := load(lookupMap(map[string]string{envVarAuthMode: "JWT", envVarJWTSecret: "s"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT || cfg.JWTSecret != "s" {
		t.Fatalf("auth=%q/%q", cfg.AuthMode, cfg.JWTSecret)
	}
}

func TestKeepaliveValidation(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:  "10s",
		envVarSignalingWSPingInterval: "10s",
	}), nil); err == nil {
		t.Fatalf("expected error when ping interval >= idle timeout")
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:  "0",
		envVarSignalingWSPingInterval: "0",
	}), nil)
	if err != nil {
		t.Fatalf("disabled keepalive: %v", err)
	}
	if cfg.SignalingWSIdleTimeout != 0 {
		t.Fatalf("SignalingWSIdleTimeout=%v, want 0", cfg.SignalingWSIdleTimeout)
	}

	cfg, err = load(lookupMap(nil), []string{"--signaling-ws-idle-timeout", "2s", "--signaling-ws-ping-interval", "500ms"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingWSIdleTimeout != 2*time.Second || cfg.SignalingWSPingInterval != 500*time.Millisecond {
		t.Fatalf("keepalive=%v/%v", cfg.SignalingWSIdleTimeout, cfg.SignalingWSPingInterval)
	}
}

func TestInvalidNumbers(t *testing.T) {
	for _, env := range []map[string]string{
		{envVarSendQueueMessages: "0"},
		{envVarSendQueueMessages: "lots"},
		{envVarMaxClients: "-1"},
		{envVarMaxSignalingMessageBytes: "0"},
		{envVarMaxSignalingMessagesPerSecond: "-5"},
		{envVarShutdownTimeout: "soon"},
		{envVarSignalingWSWriteTimeout: "0s"},
	} {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestTURNRESTConfig(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "shh",
		envVarTURNRESTTTLSeconds:   "600",
		envTurnURLs:                "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST.Enabled()=false, want true")
	}
	if cfg.TURNREST.TTLSeconds != 600 || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v", cfg.TURNREST)
	}
	if len(cfg.ICEServers) != 1 || !IsTURNServer(cfg.ICEServers[0]) {
		t.Fatalf("ICEServers=%#v", cfg.ICEServers)
	}

	if _, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "shh",
		envVarTURNRESTUsernamePrefix: "a:b",
	}), nil); err == nil {
		t.Fatalf("expected error for prefix containing ':'")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
