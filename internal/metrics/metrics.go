package metrics

import "sync"

// Event names.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	ClientRejected     = "client_rejected"
	AuthFailure        = "auth_failure"

	SignalReceived    = "signal_received"
	SignalMalformed   = "signal_malformed"
	SignalUnknown     = "signal_unknown"
	SignalRateLimited = "signal_rate_limited"

	SignatureRejected = "signature_rejected"
	ClientVerified    = "client_verified"
	ChallengeResolved = "challenge_resolved"
	ChallengeRejected = "challenge_rejected"
	AnswerUnroutable  = "answer_unroutable"

	BroadcastDelivered   = "broadcast_delivered"
	SendQueueDrop        = "send_queue_drop"
	PeerDisconnectedSent = "peer_disconnected_sent"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// everything.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
