// Package hub implements the in-process fan-out of inbound distribution
// events to local WebSocket subscribers.
package hub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/validator"
)

// Subscriber is one local peer connection. Send must be safe for use by the
// hub's broadcast goroutine and should fail rather than block forever; a
// failed send removes the subscriber from the hub.
type Subscriber interface {
	ID() string
	Send(event relay.Inbound) error
}

// Hub is the registry of currently-connected local subscribers. Broadcasts
// iterate over a snapshot of the membership, so registration changes are safe
// to make concurrently with a broadcast in progress.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]Subscriber
}

// New creates an empty hub.
func New(logger *zap.Logger) (*Hub, error) {
	h := Hub{
		logger: logger,
		subs:   make(map[string]Subscriber),
	}

	if err := validator.Validate("hub", h.logger); err != nil {
		return nil, fmt.Errorf("failed to validate hub deps: %w", err)
	}

	return &h, nil
}

// Register adds a subscriber. A subscriber re-registering under the same id
// replaces the previous entry.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("subscriber registered",
		zap.String("subscriber", sub.ID()),
		zap.Int("subscribers", n),
	)
}

// Unregister removes a subscriber. Removing an unknown id is a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.logger.Info("subscriber unregistered",
			zap.String("subscriber", id),
			zap.Int("subscribers", n),
		)
	}
}

// Count returns the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers the event to every current subscriber. A subscriber
// whose send fails is unregistered; the failure is not propagated to other
// subscribers or to the caller. Events are delivered in call order because
// the hub has a single producer.
func (h *Hub) Broadcast(event relay.Inbound) {
	h.mu.Lock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		if err := sub.Send(event); err != nil {
			h.logger.Warn("dropping subscriber after failed send",
				zap.String("subscriber", sub.ID()),
				zap.Error(err),
			)
			h.Unregister(sub.ID())
		}
	}
}

// Run drains events from a bounded inbound queue into Broadcast until the
// queue closes or ctx is cancelled. Keeping the queue between the protocol
// client and the hub localizes backpressure and cancellation.
func (h *Hub) Run(ctx context.Context, events <-chan relay.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast(event)
		}
	}
}
