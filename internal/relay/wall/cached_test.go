package wall

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/cache"
	"wall/internal/relay/metrics"
)

// countingStore is an in-memory relay.Store recording call counts.
type countingStore struct {
	mu       sync.Mutex
	notes    map[string][]relay.Note
	lists    int
	listErr  error
	pubErr   error
	pubCalls int
}

func newCountingStore() *countingStore {
	return &countingStore{notes: make(map[string][]relay.Note)}
}

func (s *countingStore) Publish(_ context.Context, threadID string, note relay.Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pubCalls++
	if s.pubErr != nil {
		return "", s.pubErr
	}
	if note.ID == "" {
		note.ID = "generated"
	}
	s.notes[threadID] = append(s.notes[threadID], note)
	return note.ID, nil
}

func (s *countingStore) List(_ context.Context, threadID string, _ time.Time, _ int) ([]relay.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]relay.Note(nil), s.notes[threadID]...), nil
}

func (s *countingStore) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func newCachedStore(t *testing.T, base relay.Store, ttl time.Duration) (*CachedStore, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock()
	c, err := cache.New[[]relay.Note](cache.Config{MaxSize: 10, DefaultTTL: time.Hour}, clk)
	require.NoError(t, err)

	s, err := NewCachedStore(CachedConfig{ReadTTL: ttl}, base, c, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	return s, clk
}

func TestCachedStore_ListServedFromCache(t *testing.T) {
	base := newCountingStore()
	s, _ := newCachedStore(t, base, 30*time.Second)
	ctx := context.Background()

	_, err := base.Publish(ctx, "general", relay.Note{ID: "n1", Content: json.RawMessage(`"x"`)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		notes, err := s.List(ctx, "general", time.Time{}, 50)
		require.NoError(t, err)
		assert.Len(t, notes, 1)
	}
	assert.Equal(t, 1, base.listCalls())
}

func TestCachedStore_StalenessWindow(t *testing.T) {
	base := newCountingStore()
	s, clk := newCachedStore(t, base, 30*time.Second)
	ctx := context.Background()

	// warm the cache with the empty thread
	notes, err := s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
	assert.Empty(t, notes)

	// a write that bypasses this wrapper is invisible until the TTL elapses
	_, err = base.Publish(ctx, "general", relay.Note{ID: "n1", Content: json.RawMessage(`"x"`)})
	require.NoError(t, err)

	notes, err = s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
	assert.Empty(t, notes, "within the TTL the stale read is expected")

	clk.Add(31 * time.Second)

	notes, err = s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestCachedStore_PublishInvalidatesCache(t *testing.T) {
	base := newCountingStore()
	s, _ := newCachedStore(t, base, time.Hour)
	ctx := context.Background()

	_, err := s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)

	id, err := s.Publish(ctx, "general", relay.Note{ID: "n1", Content: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.Equal(t, "n1", id)

	// the next read recomputes despite the long TTL
	notes, err := s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, 2, base.listCalls())
}

func TestCachedStore_DistinctArgsDistinctEntries(t *testing.T) {
	base := newCountingStore()
	s, _ := newCachedStore(t, base, time.Hour)
	ctx := context.Background()

	_, err := s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
	_, err = s.List(ctx, "general", time.Time{}, 10)
	require.NoError(t, err)
	_, err = s.List(ctx, "other", time.Time{}, 50)
	require.NoError(t, err)

	assert.Equal(t, 3, base.listCalls())
}

func TestCachedStore_ErrorsAreNotCached(t *testing.T) {
	base := newCountingStore()
	base.listErr = errors.New("disk gone")
	s, _ := newCachedStore(t, base, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.List(ctx, "general", time.Time{}, 50)
		require.Error(t, err)
	}
	assert.Equal(t, 2, base.listCalls())

	base.mu.Lock()
	base.listErr = nil
	base.mu.Unlock()

	_, err := s.List(ctx, "general", time.Time{}, 50)
	require.NoError(t, err)
}

func TestCachedStore_PublishErrorPropagates(t *testing.T) {
	base := newCountingStore()
	base.pubErr = &relay.PersistenceError{Stage: relay.StageCommit, Thread: "general", Err: errors.New("no head")}
	s, _ := newCachedStore(t, base, time.Hour)

	_, err := s.Publish(context.Background(), "general", relay.Note{Content: json.RawMessage(`"x"`)})
	require.Error(t, err)

	var persistenceErr *relay.PersistenceError
	assert.ErrorAs(t, err, &persistenceErr)
}
