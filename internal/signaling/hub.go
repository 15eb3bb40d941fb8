package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/sigverify"
)

const defaultSendQueueMessages = 100

// ErrHubClosed is returned by Serve after Close.
var ErrHubClosed = errors.New("signaling hub closed")

// Stream is one client's bidirectional message channel.
//
// ReadMessage returns the next complete text message. WriteMessage is only
// called from the connection's forwarder goroutine. Close must be safe to call
// concurrently with ReadMessage and more than once.
type Stream interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	Close() error
}

type HubConfig struct {
	Registry *registry.Registry
	Verifier *sigverify.Verifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// SendQueueMessages bounds each client's outbound queue.
	SendQueueMessages int
	// MaxSignalingMessagesPerSecond limits inbound envelopes per connection.
	// Zero disables the limit.
	MaxSignalingMessagesPerSecond int

	Clock       ratelimit.Clock
	NewClientID func() string
}

// Hub routes signals between every client connected to this process.
type Hub struct {
	registry *registry.Registry
	verifier *sigverify.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    ratelimit.Clock
	newID    func() string

	sendQueueMessages int
	messagesPerSecond int

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		registry:          cfg.Registry,
		verifier:          cfg.Verifier,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		clock:             cfg.Clock,
		newID:             cfg.NewClientID,
		sendQueueMessages: cfg.SendQueueMessages,
		messagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		sessions:          make(map[*session]struct{}),
	}
	if h.registry == nil {
		h.registry = registry.New(0)
	}
	if h.verifier == nil {
		h.verifier = sigverify.NewVerifier()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.clock == nil {
		h.clock = ratelimit.RealClock{}
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	if h.sendQueueMessages <= 0 {
		h.sendQueueMessages = defaultSendQueueMessages
	}
	return h
}

func (h *Hub) Registry() *registry.Registry { return h.registry }

// Serve registers a client for stream and runs its receive loop until the
// stream fails, the client disconnects or ctx is cancelled. Cleanup of the
// client's registry entry and peers has completed when Serve returns.
func (h *Hub) Serve(ctx context.Context, stream Stream, remoteAddr string) error {
	id := h.newID()
	logger := h.logger.With("client_id", id, "remote_addr", remoteAddr)

	q := newSendQueue(h.sendQueueMessages)
	if err := h.registry.Register(id, remoteAddr, q); err != nil {
		h.metrics.Inc(metrics.ClientRejected)
		if errors.Is(err, registry.ErrDuplicateClient) {
			logger.Error("client id collision; closing connection", "err", err)
		} else {
			logger.Warn("rejecting client", "err", err)
		}
		_ = stream.Close()
		return fmt.Errorf("register client: %w", err)
	}

	s := &session{
		hub:      h,
		id:       id,
		senderIP: hostOnly(remoteAddr),
		stream:   stream,
		queue:    q,
		limiter:  ratelimit.NewPerSecond(h.clock, h.messagesPerSecond),
		logger:   logger,
	}
	if !h.track(s) {
		h.registry.Remove(id)
		_ = stream.Close()
		return ErrHubClosed
	}
	defer h.untrack(s)

	h.metrics.Inc(metrics.ClientConnected)
	logger.Info("client connected")
	s.run(ctx)
	h.metrics.Inc(metrics.ClientDisconnected)
	logger.Info("client disconnected")
	return nil
}

// Close disconnects every live client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	live := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		_ = s.stream.Close()
	}
}

// Ready returns ErrHubClosed after Close and registry.ErrRegistryFull while
// the client limit is reached.
func (h *Hub) Ready() error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHubClosed
	}
	if h.registry.Full() {
		return registry.ErrRegistryFull
	}
	return nil
}

func (h *Hub) track(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) untrack(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
