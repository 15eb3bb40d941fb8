package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/registry"
)

const defaultWSWriteTimeout = 10 * time.Second

type Config struct {
	Hub     *Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins follows the same policy as the HTTP endpoints: empty
	// means same host only.
	AllowedOrigins []string

	AuthMode config.AuthMode
	// Auth is nil when AuthMode is none.
	Auth auth.Verifier

	MaxMessageBytes int64
	// IdleTimeout of zero disables keepalive. PingInterval defaults to half
	// of IdleTimeout when unset or not shorter than it.
	IdleTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Server accepts signaling WebSocket connections and hands them to the Hub.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(HubConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWSWriteTimeout
	}
	if cfg.IdleTimeout > 0 && (cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout) {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, log: cfg.Logger, ctx: ctx, cancel: cancel}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Close disconnects every client. Handlers return once their cleanup has run.
func (s *Server) Close() {
	s.cancel()
	s.cfg.Hub.Close()
}

// Ready reports why the server cannot take another client, if anything.
func (s *Server) Ready() error {
	return s.cfg.Hub.Ready()
}

// Clients returns the number of registered clients.
func (s *Server) Clients() int {
	return s.cfg.Hub.Registry().Len()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	_, ok := origin.Check(originHeader, r.Host, s.cfg.AllowedOrigins)
	return ok
}

func (s *Server) authorize(r *http.Request) error {
	if s.cfg.Auth == nil {
		return nil
	}
	cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
	if err != nil {
		return err
	}
	return s.cfg.Auth.Verify(cred)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		s.log.Info("rejecting unauthorized signaling connection", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The handshake response is written by Upgrade, not from w.Header().
	var respHeader http.Header
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		respHeader = http.Header{}
		respHeader.Set("X-Request-ID", reqID)
	}

	// Upgrade writes its own error response (403 on origin mismatch).
	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	stream := newWSStream(conn, wsStreamConfig{
		MaxMessageBytes: s.cfg.MaxMessageBytes,
		IdleTimeout:     s.cfg.IdleTimeout,
		PingInterval:    s.cfg.PingInterval,
		WriteTimeout:    s.cfg.WriteTimeout,
	})
	if err := s.cfg.Hub.Serve(s.ctx, stream, r.RemoteAddr); err != nil {
		if errors.Is(err, registry.ErrRegistryFull) || errors.Is(err, ErrHubClosed) {
			return
		}
		s.log.Error("signaling connection failed", "remote_addr", r.RemoteAddr, "err", err)
	}
}
