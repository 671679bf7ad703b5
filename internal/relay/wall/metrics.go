package wall

import (
	"context"
	"time"

	"wall/internal/relay"
	"wall/internal/relay/metrics"
)

// MetricsStore wraps a relay.Store with metrics collection
type MetricsStore struct {
	store    relay.Store
	registry *metrics.Registry
}

// NewMetricsStore creates a new instrumented store
func NewMetricsStore(store relay.Store, registry *metrics.Registry) relay.Store {
	return &MetricsStore{
		store:    store,
		registry: registry,
	}
}

// Publish implements relay.Store.Publish with metrics collection
func (s *MetricsStore) Publish(ctx context.Context, threadID string, note relay.Note) (string, error) {
	start := time.Now()

	id, err := s.store.Publish(ctx, threadID, note)
	s.registry.RecordWallPublish(threadID, time.Since(start), err)

	return id, err
}

// List implements relay.Store.List with metrics collection
func (s *MetricsStore) List(ctx context.Context, threadID string, since time.Time, limit int) ([]relay.Note, error) {
	start := time.Now()

	notes, err := s.store.List(ctx, threadID, since, limit)
	s.registry.RecordWallList(threadID, time.Since(start), err)

	return notes, err
}
