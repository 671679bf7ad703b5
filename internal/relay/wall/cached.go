package wall

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wall/internal/relay"
	"wall/internal/relay/cache"
	"wall/internal/relay/metrics"
	"wall/internal/validator"
)

// CachedConfig holds read cache knobs. The TTL is deliberately short: it
// bounds the staleness window polling clients may observe after a publish.
type CachedConfig struct {
	ReadTTL time.Duration `env:"WALL_READ_TTL" envDefault:"30s"`
}

// CachedStore wraps a relay.Store with a cache-aside read path. Concurrent
// identical reads are collapsed to a single underlying call, and a
// successful publish invalidates the cache so the next read past the TTL
// window sees the new note. Errors are never cached.
type CachedStore struct {
	cfg      CachedConfig
	store    relay.Store
	cache    *cache.Cache[[]relay.Note]
	registry *metrics.Registry
	logger   *zap.Logger

	group singleflight.Group
}

// NewCachedStore creates the caching read wrapper.
func NewCachedStore(
	cfg CachedConfig,
	store relay.Store,
	c *cache.Cache[[]relay.Note],
	registry *metrics.Registry,
	logger *zap.Logger,
) (*CachedStore, error) {
	s := CachedStore{
		cfg:      cfg,
		store:    store,
		cache:    c,
		registry: registry,
		logger:   logger,
	}

	if err := validator.Validate(
		"cached-wall-store",
		s.store,
		s.cache,
		s.registry,
		s.logger,
		s.cfg.ReadTTL,
	); err != nil {
		return nil, fmt.Errorf("failed to validate cached store deps: %w", err)
	}

	return &s, nil
}

// Publish implements relay.Store.Publish and invalidates cached reads on
// success.
func (s *CachedStore) Publish(ctx context.Context, threadID string, note relay.Note) (string, error) {
	id, err := s.store.Publish(ctx, threadID, note)
	if err != nil {
		return "", err
	}

	s.cache.Clear()
	s.registry.SetCacheSize(0)

	return id, nil
}

// List implements relay.Store.List through the cache.
func (s *CachedStore) List(ctx context.Context, threadID string, since time.Time, limit int) ([]relay.Note, error) {
	key := cache.Key("wall.list", threadID, since.UTC().Unix(), limit)

	if notes, ok := s.cache.Get(key); ok {
		s.registry.RecordCacheLookup(true)
		return notes, nil
	}
	s.registry.RecordCacheLookup(false)

	v, err, shared := s.group.Do(key, func() (any, error) {
		notes, err := s.store.List(ctx, threadID, since, limit)
		if err != nil {
			return nil, err
		}
		s.cache.PutTTL(key, notes, s.cfg.ReadTTL)
		return notes, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("collapsed concurrent identical read",
			zap.String("thread", threadID),
		)
	}

	s.registry.SetCacheSize(s.cache.Stats().Size)

	return v.([]relay.Note), nil
}
