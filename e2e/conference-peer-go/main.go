// Command conference-peer-go is a headless conference participant used by
// end-to-end tests. It joins the signaling server as either the offerer or
// the answerer, negotiates a WebRTC data channel with the other role through
// the server, and prints CONNECTED once the channel opens.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/sigverify"
)

func main() {
	role := envOrDefault("ROLE", "offerer")
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:3030/ws")
	origin := envOrDefault("ORIGIN", "http://localhost/")
	timeout, err := time.ParseDuration(envOrDefault("TIMEOUT", "30s"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid TIMEOUT: %v\n", err)
		os.Exit(2)
	}
	time.AfterFunc(timeout, func() {
		fmt.Fprintf(os.Stderr, "timed out after %s\n", timeout)
		os.Exit(1)
	})

	ws, err := websocket.Dial(signalingURL, "", origin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalingURL, err)
		os.Exit(1)
	}
	defer ws.Close()

	p, err := newPeer(ws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer p.pc.Close()

	switch role {
	case "offerer":
		err = p.runOfferer()
	case "answerer":
		err = p.runAnswerer()
	default:
		err = fmt.Errorf("unknown ROLE %q (expected offerer or answerer)", role)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", role, err)
		os.Exit(1)
	}
	fmt.Println("CONNECTED")
}

type peer struct {
	ws   *websocket.Conn
	pc   *webrtc.PeerConnection
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey

	open chan struct{}
}

func newPeer(ws *websocket.Conn) (*peer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = logLevel(envOrDefault("PION_LOG_LEVEL", "warn"))
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	return &peer{ws: ws, pc: pc, pub: pub, priv: priv, open: make(chan struct{})}, nil
}

func (p *peer) runOfferer() error {
	dc, err := p.pc.CreateDataChannel("chat", nil)
	if err != nil {
		return err
	}
	dc.OnOpen(func() { close(p.open) })

	local, err := p.localDescription(func() (webrtc.SessionDescription, error) { return p.pc.CreateOffer(nil) })
	if err != nil {
		return err
	}
	offerJSON, err := json.Marshal(local)
	if err != nil {
		return err
	}

	payload, err := p.signedPayload(offerJSON, "")
	if err != nil {
		return err
	}

	verifier := sigverify.NewVerifier()

	// Re-send until an answerer is around to hear it.
	resend := time.NewTicker(time.Second)
	defer resend.Stop()
	envs := p.receive()
	if err := p.send("offer-with-challenge", payload); err != nil {
		return err
	}
	for {
		select {
		case <-p.open:
			return nil
		case <-resend.C:
			if p.pc.RemoteDescription() == nil {
				if err := p.send("offer-with-challenge", payload); err != nil {
					return err
				}
			}
		case env, ok := <-envs:
			if !ok {
				return errors.New("signaling connection closed")
			}
			if env.SignalType != "secure-answer" || p.pc.RemoteDescription() != nil {
				continue
			}
			signed, err := signaling.ParseOfferPayload(env.Payload)
			if err != nil {
				continue
			}
			if err := verifier.VerifyOffer(signed.SignedFields(), signed.PublicKey, signed.Signature, sigverify.SchemeAuto); err != nil {
				fmt.Fprintf(os.Stderr, "ignoring answer from %s: %v\n", env.SenderID, err)
				continue
			}
			var answer webrtc.SessionDescription
			if err := json.Unmarshal(signed.Offer, &answer); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			if err := p.pc.SetRemoteDescription(answer); err != nil {
				return err
			}
		}
	}
}

func (p *peer) runAnswerer() error {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { close(p.open) })
	})
	verifier := sigverify.NewVerifier()

	envs := p.receive()
	for {
		select {
		case <-p.open:
			return nil
		case env, ok := <-envs:
			if !ok {
				return errors.New("signaling connection closed")
			}
			// Offers arrive relayed as challenge-response envelopes.
			if env.SignalType != "challenge-response" || p.pc.RemoteDescription() != nil {
				continue
			}
			offer, err := signaling.ParseOfferPayload(env.Payload)
			if err != nil {
				continue
			}
			if err := verifier.VerifyOffer(offer.SignedFields(), offer.PublicKey, offer.Signature, sigverify.SchemeAuto); err != nil {
				fmt.Fprintf(os.Stderr, "ignoring offer from %s: %v\n", env.SenderID, err)
				continue
			}
			if err := p.send("challenge-response", signaling.ChallengeResponsePayload{Challenge: offer.ChallengeBytes()}); err != nil {
				return err
			}

			var remote webrtc.SessionDescription
			if err := json.Unmarshal(offer.Offer, &remote); err != nil {
				return fmt.Errorf("decode offer: %w", err)
			}
			if err := p.pc.SetRemoteDescription(remote); err != nil {
				return err
			}
			local, err := p.localDescription(func() (webrtc.SessionDescription, error) { return p.pc.CreateAnswer(nil) })
			if err != nil {
				return err
			}
			answerJSON, err := json.Marshal(local)
			if err != nil {
				return err
			}
			answer, err := p.signedPayload(answerJSON, env.SenderID)
			if err != nil {
				return err
			}
			if err := p.send("secure-answer", answer); err != nil {
				return err
			}
		}
	}
}

// signedPayload wraps an SDP under a fresh challenge and signs it with the
// peer's key.
func (p *peer) signedPayload(sdp json.RawMessage, targetID string) (signaling.OfferPayload, error) {
	challenge := make([]byte, sigverify.ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return signaling.OfferPayload{}, err
	}
	payload := signaling.OfferPayload{
		Challenge: challenge,
		Offer:     sdp,
		PublicKey: signaling.Bytes(p.pub),
		TargetID:  targetID,
	}
	msg, err := sigverify.CanonicalOfferMessage(payload.SignedFields())
	if err != nil {
		return signaling.OfferPayload{}, err
	}
	payload.Signature = ed25519.Sign(p.priv, msg)
	return payload, nil
}

// localDescription creates and applies a local description and waits for ICE
// gathering so the SDP carries every candidate.
func (p *peer) localDescription(create func() (webrtc.SessionDescription, error)) (webrtc.SessionDescription, error) {
	desc, err := create()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gathered
	return *p.pc.LocalDescription(), nil
}

func (p *peer) send(signalType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return websocket.JSON.Send(p.ws, map[string]string{
		"signal_type": signalType,
		"payload":     string(data),
	})
}

func (p *peer) receive() <-chan signaling.Envelope {
	out := make(chan signaling.Envelope, 16)
	go func() {
		defer close(out)
		for {
			var env signaling.Envelope
			if err := websocket.JSON.Receive(p.ws, &env); err != nil {
				return
			}
			out <- env
		}
	}()
	return out
}

func logLevel(raw string) logging.LogLevel {
	switch strings.ToLower(raw) {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "info":
		return logging.LogLevelInfo
	case "error":
		return logging.LogLevelError
	case "disabled":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelWarn
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
