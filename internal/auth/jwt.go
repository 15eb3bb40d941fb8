package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

const (
	hmacSHA256SigLen = 32
	maxJWTLen        = 16 * 1024
)

// Claims are the JWT claims the signaling server understands.
type Claims struct {
	// Subject is an optional caller label, logged with the connection.
	Subject   string
	ExpiresAt int64
	NotBefore int64
}

// JWTVerifier verifies compact HS256 tokens. `exp` is required, `nbf` is
// honoured when present.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(token string) error {
	_, err := v.Parse(token)
	return err
}

func (v *JWTVerifier) Parse(token string) (Claims, error) {
	if len(v.secret) == 0 || token == "" || len(token) > maxJWTLen {
		return Claims{}, ErrInvalidCredentials
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidCredentials
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(headerB64, &header); err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	if header.Alg != "HS256" {
		return Claims{}, ErrUnsupportedJWT
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(gotSig) != hmacSHA256SigLen {
		return Claims{}, ErrInvalidCredentials
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(headerB64 + "." + payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return Claims{}, ErrInvalidCredentials
	}

	var raw struct {
		Sub *string      `json:"sub"`
		Exp *json.Number `json:"exp"`
		Nbf *json.Number `json:"nbf"`
	}
	if err := decodeSegment(payloadB64, &raw); err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	if raw.Exp == nil {
		return Claims{}, ErrInvalidCredentials
	}
	exp, err := raw.Exp.Int64()
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	now := v.now().Unix()
	if now >= exp {
		return Claims{}, ErrInvalidCredentials
	}
	claims := Claims{ExpiresAt: exp}
	if raw.Nbf != nil {
		nbf, err := raw.Nbf.Int64()
		if err != nil || now < nbf {
			return Claims{}, ErrInvalidCredentials
		}
		claims.NotBefore = nbf
	}
	if raw.Sub != nil {
		claims.Subject = *raw.Sub
	}
	return claims, nil
}

// decodeSegment decodes one base64url JSON object, rejecting trailing data.
func decodeSegment(seg string, v any) error {
	data, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data")
	}
	return nil
}
