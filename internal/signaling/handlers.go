package signaling

import (
	"bytes"
	"errors"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/sigverify"
)

var (
	errKeyMismatch      = errors.New("public key differs from the key bound to this client")
	errUnknownChallenge = errors.New("challenge was never issued to this client")
	errSenderGone       = errors.New("sender is no longer registered")
)

// verifyOffer checks p's signature over its canonical signed fields.
func (s *session) verifyOffer(p OfferPayload) error {
	scheme, err := sigverify.ParseScheme(p.Scheme)
	if err != nil {
		return err
	}
	return s.hub.verifier.VerifyOffer(p.SignedFields(), p.PublicKey, p.Signature, scheme)
}

// bindKey marks the sender verified under key. The first verified key is
// bound for the lifetime of the connection. A non-empty challenge is recorded
// as issued by the sender.
func (s *session) bindKey(key []byte, challenge string) error {
	var err error
	var newlyVerified bool
	found := s.hub.registry.Update(s.id, func(c *registry.Client) {
		if len(c.PublicKey) > 0 && !bytes.Equal(c.PublicKey, key) {
			err = errKeyMismatch
			return
		}
		if len(c.PublicKey) == 0 {
			c.PublicKey = bytes.Clone(key)
		}
		newlyVerified = !c.Verified
		c.Verified = true
		if challenge != "" {
			if _, ok := c.Challenges[challenge]; !ok {
				c.Challenges[challenge] = registry.ChallengeState{Issuer: c.ID}
			}
		}
	})
	if !found {
		return errSenderGone
	}
	if err == nil && newlyVerified {
		s.hub.metrics.Inc(metrics.ClientVerified)
		s.logger.Info("client verified")
	}
	return err
}

// recordOffer returns a delivery hook that registers challenge as pending for
// every recipient of the sender's offer.
func recordOffer(challenge string) func(sender, c *registry.Client) {
	return func(sender, c *registry.Client) {
		if sender == nil {
			return
		}
		if _, ok := c.Challenges[challenge]; !ok {
			c.Challenges[challenge] = registry.ChallengeState{Issuer: sender.ID}
		}
		c.LastOfferFrom = sender.ID
		registry.LinkPeer(sender, c)
	}
}

func linkPeers(sender, c *registry.Client) {
	registry.LinkPeer(sender, c)
}

func (s *session) handleOfferWithChallenge(env Envelope) {
	p, err := ParseOfferPayload(env.Payload)
	if err != nil {
		s.malformed(KindOfferWithChallenge, err)
		return
	}
	if err := s.verifyOffer(p); err != nil {
		s.rejected(KindOfferWithChallenge, err)
		return
	}
	challenge := string(p.ChallengeBytes())
	if err := s.bindKey(p.PublicKey, challenge); err != nil {
		s.rejected(KindOfferWithChallenge, err)
		return
	}

	relay := env
	relay.SignalType = KindChallengeResponse.String()
	n := s.hub.broadcast(relay, everyone, recordOffer(challenge))
	s.logger.Debug("relayed challenge", "recipients", n)
}

func (s *session) handleSecureOffer(env Envelope) {
	p, err := ParseOfferPayload(env.Payload)
	if err != nil {
		s.malformed(KindSecureOffer, err)
		return
	}
	if err := s.verifyOffer(p); err != nil {
		s.rejected(KindSecureOffer, err)
		return
	}
	challenge := string(p.ChallengeBytes())
	if err := s.bindKey(p.PublicKey, challenge); err != nil {
		s.rejected(KindSecureOffer, err)
		return
	}
	s.hub.broadcast(env, verifiedOnly, recordOffer(challenge))
}

func (s *session) handleChallengeResponse(env Envelope) {
	p, err := ParseChallengeResponsePayload(env.Payload)
	if err != nil {
		s.malformed(KindChallengeResponse, err)
		return
	}
	key := string(p.Challenge)

	var (
		state     registry.ChallengeState
		known     bool
		publicKey []byte
	)
	s.hub.registry.View(s.id, func(c *registry.Client) {
		state, known = c.Challenges[key]
		publicKey = bytes.Clone(c.PublicKey)
	})
	if !known {
		s.hub.metrics.Inc(metrics.ChallengeRejected)
		s.logger.Debug("ignoring challenge response", "err", errUnknownChallenge)
		return
	}
	if state.Resolved {
		return
	}
	// A verified responder that signs the challenge must sign it correctly.
	if len(publicKey) > 0 && len(p.ChallengeResponse) > 0 {
		if err := s.hub.verifier.Check(p.Challenge, p.ChallengeResponse, publicKey, sigverify.SchemeAuto); err != nil {
			s.hub.metrics.Inc(metrics.ChallengeRejected)
			s.rejected(KindChallengeResponse, err)
			return
		}
	}

	resolved := false
	s.hub.registry.UpdatePair(s.id, state.Issuer, func(self, issuer *registry.Client) {
		if self == nil {
			return
		}
		cur, ok := self.Challenges[key]
		if !ok || cur.Resolved {
			return
		}
		cur.Resolved = true
		self.Challenges[key] = cur
		resolved = true
		if issuer == nil {
			return
		}
		if ic, ok := issuer.Challenges[key]; ok {
			ic.Resolved = true
			issuer.Challenges[key] = ic
		}
		registry.LinkPeer(self, issuer)
	})
	if !resolved {
		return
	}
	s.hub.metrics.Inc(metrics.ChallengeResolved)

	s.hub.broadcast(Envelope{
		SignalType: KindConnectionVerified.String(),
		Payload:    ConnectionEstablished,
		SenderID:   s.id,
		SenderIP:   s.senderIP,
		Timestamp:  env.Timestamp,
	}, everyone, nil)
}

// answerTarget resolves where an answer goes: an explicit target, else the
// client whose offer was last relayed to the sender.
func (s *session) answerTarget(explicit string) string {
	if explicit != "" {
		return explicit
	}
	var last string
	s.hub.registry.View(s.id, func(c *registry.Client) { last = c.LastOfferFrom })
	return last
}

// handleAnswer routes an unsigned answer. It leaves the sender's verification
// state untouched since there is no key to bind.
func (s *session) handleAnswer(env Envelope) {
	target := s.answerTarget(parseAnswerTarget(env.Payload))
	if target == "" || target == s.id || !s.hub.sendTo(target, env) {
		s.hub.metrics.Inc(metrics.AnswerUnroutable)
		s.logger.Debug("dropping unroutable answer", "target_id", target)
	}
}

func (s *session) handleSecureAnswer(env Envelope) {
	p, err := ParseOfferPayload(env.Payload)
	if err != nil {
		s.malformed(KindSecureAnswer, err)
		return
	}
	if err := s.verifyOffer(p); err != nil {
		s.rejected(KindSecureAnswer, err)
		return
	}
	if err := s.bindKey(p.PublicKey, ""); err != nil {
		s.rejected(KindSecureAnswer, err)
		return
	}
	target := s.answerTarget(p.TargetID)
	if target != "" && target != s.id && s.hub.sendTo(target, env) {
		return
	}
	s.hub.broadcast(env, verifiedOnly, linkPeers)
}

func (s *session) handleChat(env Envelope) {
	if _, err := ParseChatPayload(env.Payload); err != nil {
		s.malformed(KindChat, err)
		return
	}
	s.hub.broadcast(env, everyone, nil)
}

func (s *session) handleScreenShare(kind Kind, env Envelope) {
	sharing := kind == KindScreenShareStart
	s.hub.registry.Update(s.id, func(c *registry.Client) { c.ScreenSharing = sharing })
	s.hub.broadcast(env, everyone, nil)
}
