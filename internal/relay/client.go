package relay

import "context"

// Client is one identity holding one transport connection to the upstream
// daemon. It translates the array-framed wire protocol into typed inbound
// events and typed outbound operations.
type Client interface {
	// Connect establishes the transport. Failures surface to the caller;
	// resilience policy is applied at the call site, not here.
	Connect(ctx context.Context, url string) error

	// Subscribe issues a subscription request. Idempotent per id: re-issuing
	// with the same id replaces the prior filter.
	Subscribe(ctx context.Context, id string, filter Filter) error

	// Unsubscribe cancels a subscription previously issued with Subscribe.
	Unsubscribe(ctx context.Context, id string) error

	// Publish sends a fully-signed event over the transport.
	Publish(ctx context.Context, event Event) error

	// PublishHTTP sends a fully-signed event to a separate HTTP ingestion
	// endpoint instead of the transport, for deployments that expose one.
	PublishHTTP(ctx context.Context, event Event, url string) error

	// Listen runs until the transport closes or ctx is cancelled, invoking
	// onEvent for every decoded inbound event. Protocol control frames update
	// internal bookkeeping only and are not forwarded.
	Listen(ctx context.Context, onEvent func(Inbound)) error

	// PublicKey returns the hex-encoded public key of the client identity.
	PublicKey() string

	// Close closes the transport. Idempotent and safe when already closed.
	Close() error
}

// Verifier checks an event signature against the event's declared author.
// Signature semantics are owned by the underlying protocol; the relay core
// only requires that unverifiable events are never persisted or relayed.
type Verifier interface {
	Verify(event Event) error
}

// Decrypter decrypts an encrypted direct message addressed to the local
// identity, given the sender's hex-encoded public key.
type Decrypter interface {
	Decrypt(content, senderPubKey string) (string, error)
}
