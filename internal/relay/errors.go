package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by client operations attempted before a
	// successful connect, or after close.
	ErrNotConnected = errors.New("transport is not connected")

	// ErrCircuitOpen is the fast-fail signal from the resilience layer. It is
	// never retried by the breaker that raised it; the API layer maps it to
	// 503.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNoteNotFound is returned when a note id does not exist in a thread.
	ErrNoteNotFound = errors.New("note not found")
)

// DecodeError reports a malformed inbound frame. The receive loop logs these
// and continues; they never terminate the stream.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol decode failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol decode failed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecryptError reports a direct message that could not be decrypted with the
// local key. It is delivered to the event callback as a variant rather than
// thrown, so one bad message never stops the stream.
type DecryptError struct {
	Sender string
	Err    error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("failed to decrypt direct message from %s: %v", e.Sender, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Persistence stages. A publish is durable only once all three complete; the
// failing stage is reported so a caller can distinguish "saved locally but not
// committed" from "not saved at all".
const (
	StageWrite  = "write"
	StageCommit = "commit"
	StagePush   = "push"
)

// PersistenceError reports a failed wall write, tagged with the stage that
// failed.
type PersistenceError struct {
	Stage  string
	Thread string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed at %s stage for thread %s: %v", e.Stage, e.Thread, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports malformed API input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
