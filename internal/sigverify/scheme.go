package sigverify

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Scheme names a signature algorithm.
type Scheme uint8

const (
	// SchemeAuto selects a scheme from the public key length.
	SchemeAuto Scheme = iota
	SchemeEd25519
	SchemeP256
)

func (s Scheme) String() string {
	switch s {
	case SchemeAuto:
		return "auto"
	case SchemeEd25519:
		return "ed25519"
	case SchemeP256:
		return "p256"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme maps a client-supplied scheme tag to a Scheme. The empty string
// means SchemeAuto.
func ParseScheme(raw string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return SchemeAuto, nil
	case "ed25519":
		return SchemeEd25519, nil
	case "p256", "p-256", "ecdsa-p256", "es256":
		return SchemeP256, nil
	default:
		return SchemeAuto, fmt.Errorf("%w: %q", ErrUnsupportedScheme, raw)
	}
}

// Algorithm is one signature primitive.
//
// Verifier checks key and signature lengths against KeySizes/SignatureSize
// before it ever calls Verify.
type Algorithm interface {
	KeySizes() []int
	SignatureSize() int
	// Verify reports whether sig is a valid signature of msg under key. A
	// non-nil error means key could not be decoded.
	Verify(key, msg, sig []byte) (bool, error)
}

const (
	ed25519SignatureSize = ed25519.SignatureSize

	p256CompressedKeySize   = 33
	p256UncompressedKeySize = 65
	p256SignatureSize       = 64
)

type ed25519Algorithm struct{}

func (ed25519Algorithm) KeySizes() []int    { return []int{ed25519.PublicKeySize} }
func (ed25519Algorithm) SignatureSize() int { return ed25519SignatureSize }

func (ed25519Algorithm) Verify(key, msg, sig []byte) (bool, error) {
	return ed25519.Verify(ed25519.PublicKey(key), msg, sig), nil
}

// p256Algorithm verifies ECDSA P-256 signatures over the SHA-256 digest of the
// message. Keys are SEC1 encoded points, signatures are fixed-width r||s.
type p256Algorithm struct{}

func (p256Algorithm) KeySizes() []int {
	return []int{p256CompressedKeySize, p256UncompressedKeySize}
}
func (p256Algorithm) SignatureSize() int { return p256SignatureSize }

func (p256Algorithm) Verify(key, msg, sig []byte) (bool, error) {
	pub, err := parseP256PublicKey(key)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(sig[:p256SignatureSize/2])
	s := new(big.Int).SetBytes(sig[p256SignatureSize/2:])
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

func parseP256PublicKey(key []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	var x, y *big.Int
	switch len(key) {
	case p256CompressedKeySize:
		x, y = elliptic.UnmarshalCompressed(curve, key)
	case p256UncompressedKeySize:
		//nolint:staticcheck // crypto/ecdh does not expose coordinates for ecdsa.Verify.
		x, y = elliptic.Unmarshal(curve, key)
	}
	if x == nil {
		return nil, errors.New("not a valid P-256 point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
