package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/sigverify"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-conference-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"max_clients", cfg.MaxClients,
		"send_queue_messages", cfg.SendQueueMessages,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv, err := newServer(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})
	if err != nil {
		logger.Error("failed to configure signaling", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		_ = srv.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// newServer wires the signaling hub and metrics into the HTTP surface for cfg.
func newServer(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*httpserver.Server, error) {
	authVerifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hub := signaling.NewHub(signaling.HubConfig{
		Registry:                      registry.New(cfg.MaxClients),
		Verifier:                      sigverify.NewVerifier(),
		Metrics:                       m,
		Logger:                        logger,
		SendQueueMessages:             cfg.SendQueueMessages,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})
	sig := signaling.NewServer(signaling.Config{
		Hub:             hub,
		Logger:          logger,
		Metrics:         m,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthMode:        cfg.AuthMode,
		Auth:            authVerifier,
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		IdleTimeout:     cfg.SignalingWSIdleTimeout,
		PingInterval:    cfg.SignalingWSPingInterval,
		WriteTimeout:    cfg.SignalingWSWriteTimeout,
	})

	return httpserver.New(cfg, logger, httpserver.Options{
		Build:     build,
		Signaling: sig,
		Metrics:   m,
	}), nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info (useful
	// for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
