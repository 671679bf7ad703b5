package wall

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"wall/internal/relay"
	"wall/internal/relay/tracing"
)

// TracedStore wraps a relay.Store with distributed tracing
// Layer order: CachedStore -> TracedStore -> MetricsStore -> Store (real thing)
type TracedStore struct {
	store  relay.Store
	tracer *tracing.Tracer
}

// NewTracedStore creates a new traced store that wraps a metrics store
func NewTracedStore(store relay.Store, tracer *tracing.Tracer) relay.Store {
	return &TracedStore{
		store:  store,
		tracer: tracer,
	}
}

// Publish implements relay.Store.Publish with distributed tracing
func (s *TracedStore) Publish(ctx context.Context, threadID string, note relay.Note) (string, error) {
	ctx, span := s.tracer.StartSpan(ctx, "wall.publish")
	defer span.End()

	span.SetAttributes(s.tracer.WallAttributes(threadID)...)

	id, err := s.store.Publish(ctx, threadID, note)

	if err != nil {
		s.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(s.tracer.PublishAttributes(threadID, id)...)
	}
	span.SetAttributes(s.tracer.ErrorAttributes(err)...)

	return id, err
}

// List implements relay.Store.List with distributed tracing
func (s *TracedStore) List(ctx context.Context, threadID string, since time.Time, limit int) ([]relay.Note, error) {
	ctx, span := s.tracer.StartSpan(ctx, "wall.list")
	defer span.End()

	span.SetAttributes(s.tracer.ListAttributes(threadID, limit)...)

	notes, err := s.store.List(ctx, threadID, since, limit)

	if err != nil {
		s.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(s.tracer.ErrorAttributes(err)...)

	return notes, err
}
