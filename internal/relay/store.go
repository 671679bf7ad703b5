package relay

import (
	"context"
	"time"
)

// Store is the durable, append-only wall. Notes are organized by thread;
// reads may be served from cache by a wrapping implementation.
type Store interface {
	// Publish writes one note to the thread, assigning an id and creation
	// time when absent, then invokes the commit/push sink. Returns the stored
	// note id. Failures carry a *PersistenceError identifying the stage.
	Publish(ctx context.Context, threadID string, note Note) (string, error)

	// List returns up to limit most-recently-written notes in the thread,
	// optionally filtered to notes created at or after since. A missing
	// thread yields an empty list, not an error.
	List(ctx context.Context, threadID string, since time.Time, limit int) ([]Note, error)
}

// Sink is the external version-control-backed durability mechanism invoked
// after a local write. Implementations distinguish commit failures from push
// failures via *PersistenceError.
type Sink interface {
	Commit(ctx context.Context, threadID, message string) error
}
