package signaling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/ratelimit"
)

// session is the per-connection state machine. It is created Active by
// Hub.Serve and moves to Closing when its receive loop ends.
type session struct {
	hub      *Hub
	id       string
	senderIP string
	stream   Stream
	queue    *sendQueue
	limiter  *ratelimit.TokenBucket
	logger   *slog.Logger

	cleanupOnce sync.Once
}

func (s *session) run(ctx context.Context) {
	forwarderDone := make(chan struct{})
	go s.forward(forwarderDone)

	stop := context.AfterFunc(ctx, func() { _ = s.stream.Close() })
	defer stop()

	defer func() {
		s.cleanup()
		s.queue.Close()
		<-forwarderDone
		_ = s.stream.Close()
	}()

	for {
		msg, err := s.stream.ReadMessage()
		if err != nil {
			s.logger.Debug("receive loop ended", "err", err)
			return
		}
		s.handleMessage(msg)
	}
}

// forward drains the outbound queue into the stream. A write failure closes
// the stream so the receive loop observes the fault.
func (s *session) forward(done chan<- struct{}) {
	defer close(done)
	for {
		msg, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		if err := s.stream.WriteMessage(msg); err != nil {
			s.logger.Debug("write failed", "err", err)
			s.queue.Close()
			_ = s.stream.Close()
			return
		}
	}
}

func (s *session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.hub.disconnect(s.id, s.senderIP)
	})
}

func (s *session) handleMessage(data []byte) {
	h := s.hub
	h.metrics.Inc(metrics.SignalReceived)

	// Messages over the rate are dropped after reading so the connection
	// stays usable.
	if !s.limiter.Allow(1) {
		h.metrics.Inc(metrics.SignalRateLimited)
		s.logger.Debug("dropping signal over rate limit")
		return
	}

	env, err := ParseEnvelope(data)
	if err != nil {
		h.metrics.Inc(metrics.SignalMalformed)
		s.logger.Debug("dropping malformed envelope", "err", err)
		return
	}
	env.SenderID = s.id
	env.SenderIP = s.senderIP
	env.Timestamp = h.clock.Now().Unix()

	kind := ParseKind(env.SignalType)
	if !kind.ClientSent() {
		h.metrics.Inc(metrics.SignalUnknown)
		s.logger.Debug("dropping unknown signal type", "signal_type", env.SignalType)
		return
	}
	s.dispatch(kind, env)
}

func (s *session) dispatch(kind Kind, env Envelope) {
	switch kind {
	case KindOfferWithChallenge:
		s.handleOfferWithChallenge(env)
	case KindSecureOffer:
		s.handleSecureOffer(env)
	case KindChallengeResponse:
		s.handleChallengeResponse(env)
	case KindAnswer:
		s.handleAnswer(env)
	case KindSecureAnswer:
		s.handleSecureAnswer(env)
	case KindICECandidate:
		s.hub.broadcast(env, verifiedOnly, linkPeers)
	case KindChat:
		s.handleChat(env)
	case KindScreenShareStart, KindScreenShareStop:
		s.handleScreenShare(kind, env)
	}
}

func (s *session) malformed(kind Kind, err error) {
	s.hub.metrics.Inc(metrics.SignalMalformed)
	s.logger.Debug("dropping malformed payload", "signal_type", kind.String(), "err", err)
}

func (s *session) rejected(kind Kind, err error) {
	s.hub.metrics.Inc(metrics.SignatureRejected)
	s.logger.Info("signature rejected", "signal_type", kind.String(), "err", err)
}
