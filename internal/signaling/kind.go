package signaling

// Kind classifies an envelope's signal_type.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindOfferWithChallenge
	KindSecureOffer
	KindChallengeResponse
	KindAnswer
	KindSecureAnswer
	KindICECandidate
	KindChat
	KindScreenShareStart
	KindScreenShareStop

	// Emitted by the server only.
	KindConnectionVerified
	KindPeerDisconnected
)

var kindNames = map[Kind]string{
	KindOfferWithChallenge: "offer-with-challenge",
	KindSecureOffer:        "secure-offer",
	KindChallengeResponse:  "challenge-response",
	KindAnswer:             "answer",
	KindSecureAnswer:       "secure-answer",
	KindICECandidate:       "ice-candidate",
	KindChat:               "chat",
	KindScreenShareStart:   "screen-share-start",
	KindScreenShareStop:    "screen-share-stop",
	KindConnectionVerified: "connection-verified",
	KindPeerDisconnected:   "peer-disconnected",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps a wire signal_type to its Kind. Unrecognized values map to
// KindUnknown.
func ParseKind(signalType string) Kind {
	return kindsByName[signalType]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ClientSent reports whether clients are allowed to send k.
func (k Kind) ClientSent() bool {
	switch k {
	case KindUnknown, KindConnectionVerified, KindPeerDisconnected:
		return false
	default:
		return true
	}
}
