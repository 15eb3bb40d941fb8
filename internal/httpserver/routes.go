package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
)

var errNotServing = errors.New("http server is not serving")

type readiness struct {
	Ready   bool   `json:"ready"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.opts.Build)
	})

	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.handleICE))
	s.mux.HandleFunc("OPTIONS /webrtc/ice", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if s.opts.Signaling != nil {
		s.opts.Signaling.RegisterRoutes(s.mux)
	}
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.opts.Metrics))
	}
}

// notReady returns the first reason the process should not receive new
// signaling clients.
func (s *Server) notReady() error {
	if !s.serving.Load() {
		return errNotServing
	}
	if s.configErr != nil {
		return s.configErr
	}
	if s.opts.Signaling != nil {
		return s.opts.Signaling.Ready()
	}
	return nil
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	var body readiness
	if s.opts.Signaling != nil {
		body.Clients = s.opts.Signaling.Clients()
	}
	if err := s.notReady(); err != nil {
		body.Error = err.Error()
		WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body.Ready = true
	WriteJSON(w, http.StatusOK, body)
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
