// Package httpserver is the process's single HTTP listener. It mounts the
// signaling WebSocket endpoint next to health, readiness, ICE discovery and
// metrics, all behind one middleware chain.
package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Signaling is the WebSocket side of the process as seen by the HTTP layer.
type Signaling interface {
	RegisterRoutes(mux *http.ServeMux)
	// Ready returns a non-nil error while no further client can join.
	Ready() error
	Clients() int
	// Close disconnects every client. Hijacked connections are invisible to
	// http.Server.Shutdown, so this runs first.
	Close()
}

// Options carries the optional collaborators mounted by New.
type Options struct {
	Build     BuildInfo
	Signaling Signaling
	Metrics   *metrics.Metrics
}

type Server struct {
	log  *slog.Logger
	cfg  config.Config
	opts Options
	turn *turnrest.Generator

	// configErr keeps the process up but unready when optional subsystems
	// could not be configured.
	configErr error
	serving   atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		cfg:  cfg,
		opts: opts,
		mux:  http.NewServeMux(),
	}

	turn, err := turnrest.NewGenerator(cfg.TURNREST, nil)
	if err != nil {
		logger.Error("TURN REST disabled", "err", err)
		s.configErr = err
	}
	s.turn = turn

	s.registerRoutes()

	s.srv = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: chain(s.mux,
			requestIDMiddleware(),
			accessLogMiddleware(s.log),
			recoverMiddleware(s.log),
		),
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: /ws connections are long-lived and manage
		// their own deadlines.
	}
	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

// Shutdown disconnects signaling clients and then drains ordinary requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	if s.opts.Signaling != nil {
		s.opts.Signaling.Close()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	if s.opts.Signaling != nil {
		s.opts.Signaling.Close()
	}
	return s.srv.Close()
}
