// Package agent implements the protocol client: one cryptographic identity
// holding one websocket connection to the upstream relay daemon, translating
// the array-framed wire protocol into typed inbound events.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/ident"
	"wall/internal/validator"
)

// Config holds transport tuning knobs.
type Config struct {
	ConnectTimeout time.Duration `env:"P2P_CONNECT_TIMEOUT" envDefault:"10s"`
	PublishTimeout time.Duration `env:"P2P_PUBLISH_TIMEOUT" envDefault:"5s"`
}

// Agent is the concrete relay.Client. A single mutex guards the connection,
// the subscription table, and serializes frame writes; the receive loop is
// the only reader.
type Agent struct {
	cfg       Config
	identity  *ident.Identity
	decrypter relay.Decrypter
	logger    *zap.Logger
	http      *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]relay.Filter
	eose   map[string]bool
	closed bool
}

// New creates an agent bound to the given identity. The decrypter handles
// encrypted direct messages addressed to that identity.
func New(cfg Config, identity *ident.Identity, decrypter relay.Decrypter, logger *zap.Logger) (*Agent, error) {
	a := Agent{
		cfg:       cfg,
		identity:  identity,
		decrypter: decrypter,
		logger:    logger,
		http:      &http.Client{Timeout: cfg.PublishTimeout},
		subs:      make(map[string]relay.Filter),
		eose:      make(map[string]bool),
	}

	if err := validator.Validate(
		"agent",
		a.identity,
		a.decrypter,
		a.logger,
		a.cfg.ConnectTimeout,
		a.cfg.PublishTimeout,
	); err != nil {
		return nil, fmt.Errorf("failed to validate agent deps: %w", err)
	}

	return &a, nil
}

// PublicKey implements relay.Client.PublicKey.
func (a *Agent) PublicKey() string { return a.identity.PublicKey() }

// Connect implements relay.Client.Connect. Reconnecting re-issues any
// subscriptions held from a previous connection.
func (a *Agent) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.ConnectTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return relay.ErrNotConnected
	}
	if a.conn != nil {
		a.conn.Close()
	}
	a.conn = conn
	a.eose = make(map[string]bool)
	resub := make(map[string]relay.Filter, len(a.subs))
	for id, f := range a.subs {
		resub[id] = f
	}
	a.mu.Unlock()

	a.logger.Info("connected to upstream daemon", zap.String("url", url))

	for id, f := range resub {
		if err := a.Subscribe(ctx, id, f); err != nil {
			return fmt.Errorf("failed to restore subscription %s: %w", id, err)
		}
	}

	return nil
}

// Subscribe implements relay.Client.Subscribe. Idempotent per id.
func (a *Agent) Subscribe(ctx context.Context, id string, filter relay.Filter) error {
	if id == "" {
		return &relay.ValidationError{Field: "subscription id", Reason: "must not be empty"}
	}

	data, err := encodeReq(id, filter)
	if err != nil {
		return err
	}
	if err := a.send(data); err != nil {
		return err
	}

	a.mu.Lock()
	a.subs[id] = filter
	a.mu.Unlock()

	a.logger.Debug("subscribed", zap.String("subscription", id))

	return nil
}

// Unsubscribe implements relay.Client.Unsubscribe.
func (a *Agent) Unsubscribe(ctx context.Context, id string) error {
	data, err := encodeClose(id)
	if err != nil {
		return err
	}
	if err := a.send(data); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.subs, id)
	delete(a.eose, id)
	a.mu.Unlock()

	return nil
}

// Publish implements relay.Client.Publish by sending an EVENT frame over the
// transport.
func (a *Agent) Publish(ctx context.Context, event relay.Event) error {
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return a.send(data)
}

// PublishHTTP implements relay.Client.PublishHTTP by posting the event JSON
// to a separate ingestion endpoint.
func (a *Agent) PublishHTTP(ctx context.Context, event relay.Event, url string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post event to %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ingestion endpoint %s rejected event: %s", url, res.Status)
	}

	return nil
}

// Listen implements relay.Client.Listen. It runs until the transport closes
// or ctx is cancelled. Malformed frames are logged and skipped; control
// frames update bookkeeping only.
func (a *Agent) Listen(ctx context.Context, onEvent func(relay.Inbound)) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return relay.ErrNotConnected
	}

	// unblock the read below when the caller cancels
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Info("upstream connection closed")
				return nil
			}
			return fmt.Errorf("transport receive failed: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			a.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}

		switch f.label {
		case labelEvent:
			onEvent(a.classify(f.event))
		case labelEOSE:
			a.mu.Lock()
			a.eose[f.subID] = true
			a.mu.Unlock()
			a.logger.Debug("end of stored events", zap.String("subscription", f.subID))
		case labelOK:
			a.logger.Debug("publish acknowledged",
				zap.String("event", f.eventID),
				zap.Bool("accepted", f.accepted),
				zap.String("reason", f.message),
			)
		case labelNotice:
			a.logger.Info("upstream notice", zap.String("message", f.message))
		default:
			a.logger.Warn("skipping unknown frame label", zap.String("label", f.label))
		}
	}
}

// classify decides the inbound variant once, at decode time.
func (a *Agent) classify(event relay.Event) relay.Inbound {
	switch event.Kind {
	case relay.KindTextNote:
		return relay.Inbound{Kind: relay.InboundPublicNote, Event: event}

	case relay.KindEncryptedDirectMsg:
		plaintext, err := a.decrypter.Decrypt(event.Content, event.PubKey)
		if err != nil {
			return relay.Inbound{
				Kind:  relay.InboundDecryptFailed,
				Event: event,
				Err:   &relay.DecryptError{Sender: event.PubKey, Err: err},
			}
		}
		return relay.Inbound{
			Kind:      relay.InboundDirectMessage,
			Event:     event,
			Plaintext: plaintext,
		}

	default:
		return relay.Inbound{
			Kind:    relay.InboundUnhandled,
			Event:   event,
			RawKind: event.Kind,
		}
	}
}

// Close implements relay.Client.Close. Idempotent.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}

	return nil
}

// send serializes one frame write with a publish deadline.
func (a *Agent) send(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return relay.ErrNotConnected
	}

	if err := a.conn.SetWriteDeadline(time.Now().Add(a.cfg.PublishTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport send failed: %w", err)
	}

	return nil
}
