package httpserver

import (
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
)

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	if s.turn != nil {
		creds, err := s.turn.GenerateRandom()
		if err != nil {
			s.log.Error("failed to mint TURN REST credentials", "err", err)
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "turn credentials unavailable"})
			return
		}
		servers = withTURNRESTCredentials(servers, creds.Username, creds.Credential)
		w.Header().Set("Cache-Control", "no-store")
	}

	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// withTURNRESTCredentials returns a copy of servers with username and
// credential set on every TURN entry.
func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.IsTURNServer(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
