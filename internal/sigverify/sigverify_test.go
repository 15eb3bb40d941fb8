package sigverify

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"testing"
)

func signP256(t *testing.T, priv *ecdsa.PrivateKey, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("ecdsa.Sign: %v", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func TestVerifier_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("hello")
	sig := ed25519.Sign(priv, msg)
	v := NewVerifier()

	if err := v.Check(msg, sig, pub, SchemeAuto); err != nil {
		t.Fatalf("Check(valid)=%v, want nil", err)
	}
	if err := v.Check(msg, sig, pub, SchemeEd25519); err != nil {
		t.Fatalf("Check(valid, explicit)=%v, want nil", err)
	}
	if err := v.Check([]byte("hellO"), sig, pub, SchemeAuto); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Check(tampered msg)=%v, want %v", err, ErrBadSignature)
	}
	bad := bytes.Clone(sig)
	bad[0] ^= 0xff
	if v.Verify(msg, bad, pub, SchemeAuto) {
		t.Fatalf("Verify(tampered sig)=true, want false")
	}
}

func TestVerifier_P256(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ecdhPub, err := priv.PublicKey.ECDH()
	if err != nil {
		t.Fatalf("ECDH: %v", err)
	}
	keys := map[string][]byte{
		"compressed":   elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y),
		"uncompressed": ecdhPub.Bytes(),
	}
	msg := []byte(`{"challenge":[1]}`)
	sig := signP256(t, priv, msg)
	v := NewVerifier()

	for name, key := range keys {
		if err := v.Check(msg, sig, key, SchemeAuto); err != nil {
			t.Fatalf("%s: Check(valid)=%v, want nil", name, err)
		}
		if err := v.Check(msg, sig, key, SchemeP256); err != nil {
			t.Fatalf("%s: Check(valid, explicit)=%v, want nil", name, err)
		}
		if err := v.Check(append(bytes.Clone(msg), ' '), sig, key, SchemeAuto); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("%s: Check(tampered)=%v, want %v", name, err, ErrBadSignature)
		}
	}

	notOnCurve := bytes.Clone(keys["uncompressed"])
	notOnCurve[64] ^= 0x01
	if err := v.Check(msg, sig, notOnCurve, SchemeP256); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Check(off-curve key)=%v, want %v", err, ErrInvalidKey)
	}
}

type panickingAlgorithm struct{ Algorithm }

func (panickingAlgorithm) Verify(key, msg, sig []byte) (bool, error) {
	panic("cryptographic primitive reached")
}

func TestVerifier_LengthChecksPrecedeCrypto(t *testing.T) {
	v := NewVerifier().
		WithAlgorithm(SchemeEd25519, panickingAlgorithm{ed25519Algorithm{}}).
		WithAlgorithm(SchemeP256, panickingAlgorithm{p256Algorithm{}})

	cases := []struct {
		name   string
		key    []byte
		sig    []byte
		scheme Scheme
		want   error
	}{
		{"empty key", nil, make([]byte, 64), SchemeAuto, ErrKeyLength},
		{"31 byte key", make([]byte, 31), make([]byte, 64), SchemeAuto, ErrKeyLength},
		{"294 byte key", make([]byte, 294), make([]byte, 64), SchemeAuto, ErrKeyLength},
		{"p256 length key for ed25519", make([]byte, 33), make([]byte, 64), SchemeEd25519, ErrKeyLength},
		{"short ed25519 sig", make([]byte, 32), make([]byte, 63), SchemeAuto, ErrSignatureLength},
		{"long ed25519 sig", make([]byte, 32), make([]byte, 65), SchemeAuto, ErrSignatureLength},
		{"empty p256 sig", make([]byte, 65), nil, SchemeAuto, ErrSignatureLength},
		{"der p256 sig", make([]byte, 33), make([]byte, 72), SchemeP256, ErrSignatureLength},
	}
	for _, tc := range cases {
		err := v.Check([]byte("msg"), tc.sig, tc.key, tc.scheme)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v, want %v", tc.name, err, tc.want)
		}
		fields := OfferFields{Challenge: make([]byte, ChallengeSize), Offer: json.RawMessage(`{}`)}
		if err := v.VerifyOffer(fields, tc.key, tc.sig, tc.scheme); !errors.Is(err, tc.want) {
			t.Fatalf("%s: VerifyOffer err=%v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestCheckLengths(t *testing.T) {
	alg := ed25519Algorithm{}
	if err := checkLengths(alg, SchemeEd25519, make([]byte, 32), make([]byte, 64)); err != nil {
		t.Fatalf("checkLengths(valid)=%v, want nil", err)
	}
	if err := checkLengths(alg, SchemeEd25519, make([]byte, 33), make([]byte, 64)); !errors.Is(err, ErrKeyLength) {
		t.Fatalf("checkLengths(33 byte key)=%v, want %v", err, ErrKeyLength)
	}
	if err := checkLengths(alg, SchemeEd25519, make([]byte, 32), make([]byte, 65)); !errors.Is(err, ErrSignatureLength) {
		t.Fatalf("checkLengths(65 byte sig)=%v, want %v", err, ErrSignatureLength)
	}
}

func TestCanonicalOfferMessage(t *testing.T) {
	connMsg := "hi <there>"
	cases := []struct {
		name   string
		fields OfferFields
		want   string
	}{
		{
			name: "minimal",
			fields: OfferFields{
				Challenge: []byte{1, 2, 255},
				Offer:     json.RawMessage(` {"type":"offer", "sdp":"v=0&x", "n": 1.50} `),
			},
			want: `{"challenge":[1,2,255],"connection_message":null,"encrypted_data":null,"offer":{"n":1.50,"sdp":"v=0&x","type":"offer"}}`,
		},
		{
			name: "all fields",
			fields: OfferFields{
				Challenge:         []byte{},
				Offer:             json.RawMessage(`{"b":{"z":1,"a":[true,null]},"a":"x"}`),
				EncryptedData:     &EncryptedData{Encrypted: []byte{9}, IV: []byte{8, 7}, SenderIP: "10.0.0.1", Signature: []byte{6}},
				ConnectionMessage: &connMsg,
			},
			want: `{"challenge":[],"connection_message":"hi <there>","encrypted_data":{"encrypted":[9],"iv":[8,7],"sender_ip":"10.0.0.1","signature":[6]},"offer":{"a":"x","b":{"a":[true,null],"z":1}}}`,
		},
		{
			name:   "absent offer",
			fields: OfferFields{Challenge: []byte{0}},
			want:   `{"challenge":[0],"connection_message":null,"encrypted_data":null,"offer":null}`,
		},
	}
	for _, tc := range cases {
		got, err := CanonicalOfferMessage(tc.fields)
		if err != nil {
			t.Fatalf("%s: CanonicalOfferMessage: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s:\n got=%s\nwant=%s", tc.name, got, tc.want)
		}
	}

	if _, err := CanonicalOfferMessage(OfferFields{Offer: json.RawMessage(`{} {}`)}); err == nil {
		t.Fatalf("expected error for trailing offer data")
	}
}

func TestVerifyOffer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	challenge := bytes.Repeat([]byte{7}, ChallengeSize)
	fields := OfferFields{Challenge: challenge, Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	msg, err := CanonicalOfferMessage(fields)
	if err != nil {
		t.Fatalf("CanonicalOfferMessage: %v", err)
	}
	sig := ed25519.Sign(priv, msg)
	v := NewVerifier()

	if err := v.VerifyOffer(fields, pub, sig, SchemeAuto); err != nil {
		t.Fatalf("VerifyOffer(valid)=%v, want nil", err)
	}

	// Key order and whitespace in the submitted offer do not change the
	// signed bytes.
	reordered := fields
	reordered.Offer = json.RawMessage("{ \"sdp\" : \"v=0\",\n \"type\" : \"offer\" }")
	if err := v.VerifyOffer(reordered, pub, sig, SchemeAuto); err != nil {
		t.Fatalf("VerifyOffer(reordered)=%v, want nil", err)
	}

	changed := fields
	changed.Offer = json.RawMessage(`{"type":"offer","sdp":"v=1"}`)
	if err := v.VerifyOffer(changed, pub, sig, SchemeAuto); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("VerifyOffer(changed offer)=%v, want %v", err, ErrBadSignature)
	}

	short := fields
	short.Challenge = challenge[:31]
	if err := v.VerifyOffer(short, pub, sig, SchemeAuto); !errors.Is(err, ErrChallengeLength) {
		t.Fatalf("VerifyOffer(short challenge)=%v, want %v", err, ErrChallengeLength)
	}
}

func TestParseScheme(t *testing.T) {
	cases := map[string]Scheme{
		"":        SchemeAuto,
		"Ed25519": SchemeEd25519,
		"p-256":   SchemeP256,
		"ES256":   SchemeP256,
	}
	for in, want := range cases {
		got, err := ParseScheme(in)
		if err != nil || got != want {
			t.Fatalf("ParseScheme(%q)=(%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseScheme("rsa"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("ParseScheme(rsa) err=%v, want %v", err, ErrUnsupportedScheme)
	}
}
