package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedJWT     = errors.New("unsupported jwt")
)

type Verifier interface {
	Verify(credential string) error
}

// NewVerifier returns the credential verifier for cfg.AuthMode. It returns a
// nil Verifier for AUTH_MODE=none.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromRequest extracts the credential for mode from r.
//
// Sources, in order: `Authorization: Bearer`, `X-API-Key` (api_key only),
// then the `apiKey` or `token` query parameter. Browsers cannot set headers on
// WebSocket upgrades, so the query string is the common path for /ws.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode != config.AuthModeAPIKey && mode != config.AuthModeJWT {
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	if mode == config.AuthModeAPIKey {
		if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
			return v, nil
		}
	}

	q := r.URL.Query()
	primary, fallback := "apiKey", "token"
	if mode == config.AuthModeJWT {
		primary, fallback = "token", "apiKey"
	}
	if v := q.Get(primary); v != "" {
		return v, nil
	}
	if v := q.Get(fallback); v != "" {
		return v, nil
	}
	return "", ErrMissingCredentials
}

// IsUnauthorized reports whether err is a client credential failure rather
// than a server-side problem.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnsupportedJWT)
}
