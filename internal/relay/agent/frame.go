package agent

import (
	"encoding/json"
	"fmt"

	"wall/internal/relay"
)

// Wire labels of the array-framed upstream protocol. Client-to-relay frames
// are REQ, CLOSE, and EVENT; relay-to-client frames are EVENT, EOSE, OK, and
// NOTICE.
const (
	labelEvent  = "EVENT"
	labelReq    = "REQ"
	labelClose  = "CLOSE"
	labelEOSE   = "EOSE"
	labelOK     = "OK"
	labelNotice = "NOTICE"
)

func encodeReq(id string, filter relay.Filter) ([]byte, error) {
	data, err := json.Marshal([]any{labelReq, id, filter})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription request: %w", err)
	}
	return data, nil
}

func encodeClose(id string) ([]byte, error) {
	data, err := json.Marshal([]any{labelClose, id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode close request: %w", err)
	}
	return data, nil
}

func encodeEvent(event relay.Event) ([]byte, error) {
	data, err := json.Marshal([]any{labelEvent, event})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event frame: %w", err)
	}
	return data, nil
}

// frame is one decoded inbound wire frame.
type frame struct {
	label string

	// EVENT
	subID string
	event relay.Event

	// OK
	eventID  string
	accepted bool

	// NOTICE / OK reason
	message string
}

// decodeFrame parses an inbound frame. Malformed input yields a
// *relay.DecodeError so the receive loop can log and skip it.
func decodeFrame(data []byte) (*frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, &relay.DecodeError{Reason: "frame is not a JSON array", Err: err}
	}
	if len(parts) == 0 {
		return nil, &relay.DecodeError{Reason: "frame is empty"}
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, &relay.DecodeError{Reason: "frame label is not a string", Err: err}
	}

	f := frame{label: label}
	switch label {
	case labelEvent:
		// relay-to-client form is ["EVENT", subID, event]; the two-element
		// form without a subscription id is accepted for completeness
		raw := parts[len(parts)-1]
		if len(parts) < 2 {
			return nil, &relay.DecodeError{Reason: "event frame is missing the event"}
		}
		if len(parts) >= 3 {
			if err := json.Unmarshal(parts[1], &f.subID); err != nil {
				return nil, &relay.DecodeError{Reason: "event frame subscription id is not a string", Err: err}
			}
		}
		if err := json.Unmarshal(raw, &f.event); err != nil {
			return nil, &relay.DecodeError{Reason: "event frame payload is malformed", Err: err}
		}

	case labelEOSE:
		if len(parts) < 2 {
			return nil, &relay.DecodeError{Reason: "eose frame is missing the subscription id"}
		}
		if err := json.Unmarshal(parts[1], &f.subID); err != nil {
			return nil, &relay.DecodeError{Reason: "eose frame subscription id is not a string", Err: err}
		}

	case labelOK:
		if len(parts) < 3 {
			return nil, &relay.DecodeError{Reason: "ok frame is missing fields"}
		}
		if err := json.Unmarshal(parts[1], &f.eventID); err != nil {
			return nil, &relay.DecodeError{Reason: "ok frame event id is not a string", Err: err}
		}
		if err := json.Unmarshal(parts[2], &f.accepted); err != nil {
			return nil, &relay.DecodeError{Reason: "ok frame acceptance is not a bool", Err: err}
		}
		if len(parts) >= 4 {
			// reason is optional
			_ = json.Unmarshal(parts[3], &f.message)
		}

	case labelNotice:
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &f.message)
		}
	}

	return &f, nil
}
