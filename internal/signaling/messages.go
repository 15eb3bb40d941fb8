package signaling

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/sigverify"
)

// ConnectionEstablished is the payload of connection-verified envelopes.
const ConnectionEstablished = "Connection established"

// Bytes is a byte string encoded in JSON as an array of integers 0-255. Base64
// strings are accepted on input.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, c := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	return append(out, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 byte string: %w", err)
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("invalid byte array: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("invalid byte array: element %d out of range (%d)", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Envelope is the unit of exchange on the signaling channel.
type Envelope struct {
	SignalType string `json:"signal_type"`
	Payload    string `json:"payload"`
	SenderID   string `json:"sender_id"`
	SenderIP   string `json:"sender_ip"`
	// Timestamp is Unix seconds, set by the server.
	Timestamp int64 `json:"timestamp"`
	Signature Bytes `json:"signature,omitempty"`
}

// inboundEnvelope is what the server reads from a client. Sender fields and
// timestamps supplied by clients are ignored.
type inboundEnvelope struct {
	SignalType *string `json:"signal_type"`
	Payload    string  `json:"payload"`
	Signature  Bytes   `json:"signature"`
}

var errMalformedEnvelope = errors.New("malformed envelope")

// ParseEnvelope decodes one client envelope. Unknown fields are ignored;
// trailing data and a missing signal_type are errors. The returned envelope
// has no sender fields set.
func ParseEnvelope(data []byte) (Envelope, error) {
	var in inboundEnvelope
	if err := decodeSingleJSON(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if in.SignalType == nil || *in.SignalType == "" {
		return Envelope{}, fmt.Errorf("%w: missing signal_type", errMalformedEnvelope)
	}
	return Envelope{
		SignalType: *in.SignalType,
		Payload:    in.Payload,
		Signature:  in.Signature,
	}, nil
}

func decodeSingleJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// EncryptedPayload is the optional encrypted blob attached to an offer.
type EncryptedPayload struct {
	Encrypted Bytes  `json:"encrypted"`
	IV        Bytes  `json:"iv"`
	SenderIP  string `json:"sender_ip"`
	Signature Bytes  `json:"signature"`
}

func (p *EncryptedPayload) Validate() error {
	switch {
	case len(p.Encrypted) == 0:
		return errors.New("encrypted data is empty")
	case len(p.IV) == 0:
		return errors.New("iv is empty")
	case p.SenderIP == "":
		return errors.New("sender_ip is empty")
	case len(p.Signature) == 0:
		return errors.New("encrypted data signature is empty")
	}
	return nil
}

// OfferPayload is carried by offer-with-challenge, secure-offer and
// secure-answer envelopes.
type OfferPayload struct {
	Challenge         Bytes             `json:"challenge,omitempty"`
	Nonce             Bytes             `json:"nonce,omitempty"`
	Offer             json.RawMessage   `json:"offer"`
	EncryptedData     *EncryptedPayload `json:"encrypted_data,omitempty"`
	ConnectionMessage *string           `json:"connection_message,omitempty"`
	PublicKey         Bytes             `json:"public_key"`
	Signature         Bytes             `json:"signature"`
	Scheme            string            `json:"scheme,omitempty"`

	// TargetID addresses a secure-answer to a single client.
	TargetID string `json:"target_id,omitempty"`
}

// ParseOfferPayload decodes and shape-checks an offer payload.
func ParseOfferPayload(raw string) (OfferPayload, error) {
	var p OfferPayload
	if err := decodeSingleJSON([]byte(raw), &p); err != nil {
		return OfferPayload{}, err
	}
	if len(p.ChallengeBytes()) == 0 {
		return OfferPayload{}, errors.New("missing challenge")
	}
	if len(bytes.TrimSpace(p.Offer)) == 0 {
		return OfferPayload{}, errors.New("missing offer")
	}
	if p.EncryptedData != nil {
		if err := p.EncryptedData.Validate(); err != nil {
			return OfferPayload{}, err
		}
	}
	return p, nil
}

// ChallengeBytes returns the nonce, accepting either field name.
func (p OfferPayload) ChallengeBytes() []byte {
	if len(p.Challenge) > 0 {
		return p.Challenge
	}
	return p.Nonce
}

// SignedFields returns the parts of p covered by its signature.
func (p OfferPayload) SignedFields() sigverify.OfferFields {
	f := sigverify.OfferFields{
		Challenge:         p.ChallengeBytes(),
		Offer:             p.Offer,
		ConnectionMessage: p.ConnectionMessage,
	}
	if e := p.EncryptedData; e != nil {
		f.EncryptedData = &sigverify.EncryptedData{
			Encrypted: e.Encrypted,
			IV:        e.IV,
			SenderIP:  e.SenderIP,
			Signature: e.Signature,
		}
	}
	return f
}

// ChallengeResponsePayload acknowledges a challenge relayed with an offer.
type ChallengeResponsePayload struct {
	Challenge         Bytes `json:"challenge"`
	ChallengeResponse Bytes `json:"challenge_response"`
}

func ParseChallengeResponsePayload(raw string) (ChallengeResponsePayload, error) {
	var p ChallengeResponsePayload
	if err := decodeSingleJSON([]byte(raw), &p); err != nil {
		return ChallengeResponsePayload{}, err
	}
	if len(p.Challenge) == 0 {
		return ChallengeResponsePayload{}, errors.New("missing challenge")
	}
	return p, nil
}

// ChatPayload is the payload of chat envelopes.
type ChatPayload struct {
	Text      *string `json:"text"`
	Sender    *string `json:"sender"`
	Timestamp *string `json:"timestamp"`
}

func ParseChatPayload(raw string) (ChatPayload, error) {
	var p ChatPayload
	if err := decodeSingleJSON([]byte(raw), &p); err != nil {
		return ChatPayload{}, err
	}
	if p.Text == nil || p.Sender == nil || p.Timestamp == nil {
		return ChatPayload{}, errors.New("chat message requires text, sender and timestamp")
	}
	return p, nil
}

// answerRoute is the optional routing hint in answer payloads. Payloads that
// are not JSON objects simply carry no hint.
type answerRoute struct {
	TargetID string `json:"target_id"`
}

func parseAnswerTarget(raw string) string {
	var r answerRoute
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return r.TargetID
}
