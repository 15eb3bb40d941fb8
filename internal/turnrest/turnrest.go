// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
)

var ErrInvalidSession = errors.New("turnrest: session must be non-empty and must not contain ':'")

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewGenerator returns nil when TURN REST is not configured.
func NewGenerator(cfg config.TurnRESTConfig, now func() time.Time) (*Generator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("turnrest: ttl must be > 0")
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		prefix: cfg.UsernamePrefix,
		now:    now,
	}, nil
}

// Generate mints credentials bound to session, which ends up in the TURN
// server's logs as the last username component.
func (g *Generator) Generate(session string) (Credentials, error) {
	if session == "" || strings.Contains(session, ":") {
		return Credentials{}, ErrInvalidSession
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + session

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expires,
	}, nil
}

// GenerateRandom mints credentials for a fresh random session.
func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(uuid.NewString())
}
