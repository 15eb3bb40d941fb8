package signaling

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/registry"
)

type recipientFilter func(c *registry.Client) bool

func everyone(*registry.Client) bool { return true }

func verifiedOnly(c *registry.Client) bool { return c.Verified }

type delivery struct {
	id  string
	out registry.Outbound
}

// broadcast sends env to every client other than env.SenderID that matches
// filter. Recipients are selected in one registry critical section, during
// which onDeliver may update sender and recipient state. The envelope is
// serialized once and enqueued after the lock is released. It returns the
// number of clients the envelope was queued for.
func (h *Hub) broadcast(env Envelope, filter recipientFilter, onDeliver func(sender, c *registry.Client)) int {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", "signal_type", env.SignalType, "err", err)
		return 0
	}

	var targets []delivery
	h.registry.ForEachExcept(env.SenderID, func(sender, c *registry.Client) {
		if !filter(c) {
			return
		}
		if onDeliver != nil {
			onDeliver(sender, c)
		}
		targets = append(targets, delivery{id: c.ID, out: c.Outbound})
	})
	return h.deliver(env, data, targets)
}

// sendTo delivers env to a single client and records the peer relationship.
// It reports false when target is not registered.
func (h *Hub) sendTo(target string, env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", "signal_type", env.SignalType, "err", err)
		return false
	}

	var targets []delivery
	h.registry.UpdatePair(env.SenderID, target, func(sender, c *registry.Client) {
		if c == nil {
			return
		}
		registry.LinkPeer(sender, c)
		targets = append(targets, delivery{id: c.ID, out: c.Outbound})
	})
	if len(targets) == 0 {
		return false
	}
	h.deliver(env, data, targets)
	return true
}

func (h *Hub) deliver(env Envelope, data []byte, targets []delivery) int {
	delivered := 0
	for _, t := range targets {
		if t.out == nil || !t.out.Enqueue(data) {
			h.metrics.Inc(metrics.SendQueueDrop)
			h.logger.Warn("dropping signal for client with full send queue",
				"client_id", t.id,
				"sender_id", env.SenderID,
				"signal_type", env.SignalType,
			)
			continue
		}
		delivered++
	}
	h.metrics.Add(metrics.BroadcastDelivered, uint64(delivered))
	return delivered
}

// disconnect removes id from the registry and notifies every recorded peer
// exactly once. Unresolved challenges issued by id and answer routes pointing
// at id are dropped from the remaining clients.
func (h *Hub) disconnect(id, senderIP string) {
	departed, ok := h.registry.Remove(id)
	if !ok {
		return
	}

	env := Envelope{
		SignalType: KindPeerDisconnected.String(),
		Payload:    id,
		SenderID:   id,
		SenderIP:   senderIP,
		Timestamp:  h.clock.Now().Unix(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", "signal_type", env.SignalType, "err", err)
		return
	}

	var targets []delivery
	h.registry.ForEachExcept(id, func(_, c *registry.Client) {
		delete(c.Peers, id)
		for nonce, st := range c.Challenges {
			if st.Issuer == id && !st.Resolved {
				delete(c.Challenges, nonce)
			}
		}
		if c.LastOfferFrom == id {
			c.LastOfferFrom = ""
		}
		if _, ok := departed.Peers[c.ID]; ok {
			targets = append(targets, delivery{id: c.ID, out: c.Outbound})
		}
	})
	n := h.deliver(env, data, targets)
	h.metrics.Add(metrics.PeerDisconnectedSent, uint64(n))
}
