// Package peers tracks the set of author identities observed on the event
// stream, exposed read-only to API consumers.
package peers

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"wall/internal/validator"
)

// Directory is the process-wide set of known peer public keys. The protocol
// client's receive loop is the single writer; API handlers read concurrently.
type Directory struct {
	logger *zap.Logger

	mu    sync.RWMutex
	known map[string]struct{}
}

// New creates an empty directory.
func New(logger *zap.Logger) (*Directory, error) {
	d := Directory{
		logger: logger,
		known:  make(map[string]struct{}),
	}

	if err := validator.Validate("peers", d.logger); err != nil {
		return nil, fmt.Errorf("failed to validate peers deps: %w", err)
	}

	return &d, nil
}

// Observe records a peer public key, returning true the first time it is
// seen.
func (d *Directory) Observe(pubkey string) bool {
	if pubkey == "" {
		return false
	}

	d.mu.Lock()
	_, seen := d.known[pubkey]
	if !seen {
		d.known[pubkey] = struct{}{}
	}
	d.mu.Unlock()

	if !seen {
		d.logger.Info("new peer observed", zap.String("pubkey", pubkey))
	}

	return !seen
}

// Known returns the sorted set of observed peer public keys.
func (d *Directory) Known() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.known))
	for pk := range d.known {
		out = append(out, pk)
	}
	sort.Strings(out)

	return out
}

// Count returns the number of observed peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.known)
}
