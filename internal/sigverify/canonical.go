package sigverify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChallengeSize is the required length of an offer nonce.
const ChallengeSize = 32

// EncryptedData is the optional encrypted envelope attached to an offer.
type EncryptedData struct {
	Encrypted []byte
	IV        []byte
	SenderIP  string
	Signature []byte
}

// OfferFields are the parts of an offer covered by its signature.
type OfferFields struct {
	Challenge         []byte
	Offer             json.RawMessage
	EncryptedData     *EncryptedData
	ConnectionMessage *string
}

// CanonicalOfferMessage returns the exact bytes a client signs for an offer or
// a secure answer:
//
//	{"challenge":[..],"connection_message":..,"encrypted_data":..,"offer":..}
//
// The object is compact with keys in byte order at every level. Byte strings
// are arrays of integers, absent optionals are null, and numbers inside offer
// are emitted as written. HTML characters are not escaped; U+2028 and U+2029
// are escaped as \u2028 and \u2029.
func CanonicalOfferMessage(f OfferFields) ([]byte, error) {
	var offer any
	if len(bytes.TrimSpace(f.Offer)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(f.Offer))
		dec.UseNumber()
		if err := dec.Decode(&offer); err != nil {
			return nil, fmt.Errorf("decode offer: %w", err)
		}
		if dec.More() {
			return nil, fmt.Errorf("decode offer: trailing data")
		}
	}

	var connMsg any
	if f.ConnectionMessage != nil {
		connMsg = *f.ConnectionMessage
	}

	var encrypted any
	if e := f.EncryptedData; e != nil {
		encrypted = map[string]any{
			"encrypted": byteArray(e.Encrypted),
			"iv":        byteArray(e.IV),
			"sender_ip": e.SenderIP,
			"signature": byteArray(e.Signature),
		}
	}

	// encoding/json writes map keys sorted, which gives the canonical order.
	doc := map[string]any{
		"challenge":          byteArray(f.Challenge),
		"connection_message": connMsg,
		"encrypted_data":     encrypted,
		"offer":              offer,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// VerifyOffer checks the challenge length and then the signature over the
// canonical offer message.
func (v *Verifier) VerifyOffer(f OfferFields, key, sig []byte, scheme Scheme) error {
	if len(f.Challenge) != ChallengeSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrChallengeLength, len(f.Challenge), ChallengeSize)
	}
	// Reject bad lengths before spending time on canonicalization.
	_, alg, err := v.resolveLengths(key, sig, scheme)
	if err != nil {
		return err
	}
	msg, err := CanonicalOfferMessage(f)
	if err != nil {
		return err
	}
	return verifyWith(alg, msg, sig, key)
}

func byteArray(b []byte) []int {
	out := make([]int, len(b))
	for i, c := range b {
		out[i] = int(c)
	}
	return out
}
