package relay

import (
	"encoding/json"
	"time"
)

// Well-known event kinds on the wire. Anything else is forwarded to the
// application as unhandled rather than rejected.
const (
	KindTextNote           = 1
	KindEncryptedDirectMsg = 4
)

// Event is a signed record as it travels over the upstream protocol.
// It is immutable once constructed; ID and Sig are derived from the canonical
// encoding of the remaining fields by the protocol layer.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first value of the named tag, or "" if the event does not
// carry it.
func (e Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// Time returns the event creation time as a time.Time in UTC.
func (e Event) Time() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// InboundKind is the closed set of variants an inbound event decodes to.
// The decision is made once, at decode time, so consumers can switch
// exhaustively instead of re-checking raw kind numbers.
type InboundKind int

const (
	// InboundPublicNote is a plain-text public note.
	InboundPublicNote InboundKind = iota
	// InboundDirectMessage is an encrypted direct message that decrypted
	// successfully; Plaintext carries the decrypted content.
	InboundDirectMessage
	// InboundDecryptFailed is an encrypted direct message that could not be
	// decrypted with the local key; Err carries the failure. It is delivered
	// rather than dropped so the application can log or surface it.
	InboundDecryptFailed
	// InboundUnhandled is any other event kind; RawKind preserves the wire
	// kind so the application can log and ignore it without crashing.
	InboundUnhandled
)

func (k InboundKind) String() string {
	switch k {
	case InboundPublicNote:
		return "public_note"
	case InboundDirectMessage:
		return "direct_message"
	case InboundDecryptFailed:
		return "decrypt_failed"
	case InboundUnhandled:
		return "unhandled"
	default:
		return "unknown"
	}
}

// Inbound is a decoded event from the upstream connection, tagged with the
// variant decided at decode time.
type Inbound struct {
	Kind      InboundKind
	Event     Event
	Plaintext string
	RawKind   int
	Err       error
}

// MarshalJSON encodes the inbound variant for local subscribers. The raw
// event is always included; plaintext is only present for decrypted direct
// messages and errors are flattened to strings.
func (in Inbound) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind      string `json:"kind"`
		Event     Event  `json:"event"`
		Plaintext string `json:"plaintext,omitempty"`
		RawKind   int    `json:"raw_kind,omitempty"`
		Error     string `json:"error,omitempty"`
	}{
		Kind:    in.Kind.String(),
		Event:   in.Event,
		RawKind: in.RawKind,
	}
	if in.Kind == InboundDirectMessage {
		out.Plaintext = in.Plaintext
	}
	if in.Err != nil {
		out.Error = in.Err.Error()
	}
	return json.Marshal(out)
}
