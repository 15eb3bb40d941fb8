package sigverify

import (
	"errors"
	"fmt"
)

var (
	ErrKeyLength         = errors.New("sigverify: public key has wrong length")
	ErrSignatureLength   = errors.New("sigverify: signature has wrong length")
	ErrChallengeLength   = errors.New("sigverify: challenge has wrong length")
	ErrUnsupportedScheme = errors.New("sigverify: unsupported signature scheme")
	ErrInvalidKey        = errors.New("sigverify: invalid public key")
	ErrBadSignature      = errors.New("sigverify: signature does not verify")
)

// Verifier checks signatures for the supported schemes. It has no side
// effects and is safe for concurrent use once constructed.
type Verifier struct {
	algs map[Scheme]Algorithm
}

// NewVerifier returns a Verifier supporting Ed25519 and ECDSA P-256.
func NewVerifier() *Verifier {
	return &Verifier{
		algs: map[Scheme]Algorithm{
			SchemeEd25519: ed25519Algorithm{},
			SchemeP256:    p256Algorithm{},
		},
	}
}

// WithAlgorithm returns a copy of v using alg for scheme.
func (v *Verifier) WithAlgorithm(scheme Scheme, alg Algorithm) *Verifier {
	algs := make(map[Scheme]Algorithm, len(v.algs)+1)
	for s, a := range v.algs {
		algs[s] = a
	}
	algs[scheme] = alg
	return &Verifier{algs: algs}
}

// Resolve picks the scheme used for key. SchemeAuto is resolved by key length.
func (v *Verifier) Resolve(key []byte, scheme Scheme) (Scheme, Algorithm, error) {
	if scheme == SchemeAuto {
		for _, s := range []Scheme{SchemeEd25519, SchemeP256} {
			alg, ok := v.algs[s]
			if ok && acceptsKeyLength(alg, len(key)) {
				return s, alg, nil
			}
		}
		return SchemeAuto, nil, fmt.Errorf("%w: %d bytes", ErrKeyLength, len(key))
	}
	alg, ok := v.algs[scheme]
	if !ok {
		return scheme, nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return scheme, alg, nil
}

// Check verifies sig over msg under key. Key and signature lengths are
// validated before any cryptographic work.
func (v *Verifier) Check(msg, sig, key []byte, scheme Scheme) error {
	_, alg, err := v.resolveLengths(key, sig, scheme)
	if err != nil {
		return err
	}
	return verifyWith(alg, msg, sig, key)
}

// resolveLengths resolves scheme for key and rejects key or signature
// lengths the scheme cannot accept.
func (v *Verifier) resolveLengths(key, sig []byte, scheme Scheme) (Scheme, Algorithm, error) {
	scheme, alg, err := v.Resolve(key, scheme)
	if err != nil {
		return scheme, nil, err
	}
	if err := checkLengths(alg, scheme, key, sig); err != nil {
		return scheme, nil, err
	}
	return scheme, alg, nil
}

func checkLengths(alg Algorithm, scheme Scheme, key, sig []byte) error {
	if !acceptsKeyLength(alg, len(key)) {
		return fmt.Errorf("%w: %s key is %d bytes", ErrKeyLength, scheme, len(key))
	}
	if len(sig) != alg.SignatureSize() {
		return fmt.Errorf("%w: %s signature is %d bytes, want %d", ErrSignatureLength, scheme, len(sig), alg.SignatureSize())
	}
	return nil
}

func verifyWith(alg Algorithm, msg, sig, key []byte) error {
	ok, err := alg.Verify(key, msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// Verify is Check reduced to a boolean.
func (v *Verifier) Verify(msg, sig, key []byte, scheme Scheme) bool {
	return v.Check(msg, sig, key, scheme) == nil
}

func acceptsKeyLength(alg Algorithm, n int) bool {
	for _, size := range alg.KeySizes() {
		if size == n {
			return true
		}
	}
	return false
}
