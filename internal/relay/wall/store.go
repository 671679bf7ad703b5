// Package wall implements durable, append-only storage of notes organized by
// thread: one directory per thread, one JSON file per note, with an external
// commit/push sink invoked after every local write and cached reads in front.
package wall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wall/internal/fstore"
	"wall/internal/relay"
	"wall/internal/validator"
)

// Config holds wall storage knobs.
type Config struct {
	Path    string `env:"WALL_PATH" envDefault:"wall/threads"`
	Workers int    `env:"WALL_WORKERS" envDefault:"4"`
}

// Store is the base relay.Store. File writes and sink invocations are
// blocking work and run on a bounded worker pool so they never stall the
// serving goroutines.
type Store struct {
	notes  *fstore.Store[relay.Note]
	sink   relay.Sink
	pool   *workerpool.WorkerPool
	logger *zap.Logger
}

// NewStore creates a wall store rooted at cfg.Path.
func NewStore(cfg Config, sink relay.Sink, logger *zap.Logger) (*Store, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count: %d", cfg.Workers)
	}

	notes, err := fstore.NewStore[relay.Note](cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wall store: %w", err)
	}

	s := Store{
		notes:  notes,
		sink:   sink,
		pool:   workerpool.New(cfg.Workers),
		logger: logger,
	}

	if err := validator.Validate("wall-store", s.notes, s.sink, s.pool, s.logger); err != nil {
		return nil, fmt.Errorf("failed to validate wall store deps: %w", err)
	}

	return &s, nil
}

// Publish implements relay.Store.Publish. The note id and creation time are
// assigned when absent; publishing the same note id to the same thread twice
// is a no-op returning the existing id.
func (s *Store) Publish(ctx context.Context, threadID string, note relay.Note) (string, error) {
	if err := validThread(threadID); err != nil {
		return "", err
	}

	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if len(note.Content) == 0 {
		return "", &relay.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	errCh := make(chan error, 1)
	s.pool.Submit(func() {
		errCh <- s.persist(ctx, threadID, note)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		if err != nil {
			return "", err
		}
	}

	return note.ID, nil
}

func (s *Store) persist(ctx context.Context, threadID string, note relay.Note) error {
	keys, err := s.notes.Keys(threadID)
	if err != nil {
		return &relay.PersistenceError{Stage: relay.StageWrite, Thread: threadID, Err: err}
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "-"+note.ID+".json") {
			s.logger.Debug("note already stored",
				zap.String("thread", threadID),
				zap.String("note", note.ID),
			)
			return nil
		}
	}

	// the zero-padded nanosecond prefix makes lexical directory order the
	// insertion order
	key := fmt.Sprintf("%s/%020d-%s.json", threadID, time.Now().UnixNano(), note.ID)
	if err := s.notes.Put(key, note); err != nil {
		return &relay.PersistenceError{Stage: relay.StageWrite, Thread: threadID, Err: err}
	}

	message := fmt.Sprintf("Add note %s to thread %s", note.ID, threadID)
	if err := s.sink.Commit(ctx, threadID, message); err != nil {
		return err
	}

	s.logger.Info("note published",
		zap.String("thread", threadID),
		zap.String("note", note.ID),
	)

	return nil
}

// List implements relay.Store.List: up to limit most-recently-written notes
// in insertion order, optionally filtered to notes created at or after
// since. Malformed note files are skipped and logged.
func (s *Store) List(ctx context.Context, threadID string, since time.Time, limit int) ([]relay.Note, error) {
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, &relay.ValidationError{Field: "limit", Reason: "must be positive"}
	}

	type result struct {
		notes []relay.Note
		err   error
	}
	resCh := make(chan result, 1)
	s.pool.Submit(func() {
		notes, err := s.read(threadID, since)
		resCh <- result{notes: notes, err: err}
	})

	var notes []relay.Note
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		notes = res.notes
	}

	if len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}

	return notes, nil
}

func (s *Store) read(threadID string, since time.Time) ([]relay.Note, error) {
	keys, err := s.notes.Keys(threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread %s: %w", threadID, err)
	}

	notes := make([]relay.Note, 0, len(keys))
	for _, key := range keys {
		note, err := s.notes.Get(key)
		if err != nil {
			s.logger.Warn("skipping malformed note file",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		if !since.IsZero() && note.CreatedAt.Before(since) {
			continue
		}
		notes = append(notes, *note)
	}

	return notes, nil
}

// Stop drains the worker pool. Called on shutdown after the HTTP server and
// the receive loop have stopped.
func (s *Store) Stop() {
	s.pool.StopWait()
}

func validThread(threadID string) error {
	if threadID == "" {
		return &relay.ValidationError{Field: "thread_id", Reason: "must not be empty"}
	}
	if strings.ContainsAny(threadID, "/\\.") {
		return &relay.ValidationError{Field: "thread_id", Reason: "must not contain path separators"}
	}
	return nil
}
