// Package resilience provides the failure-isolation wrapper around upstream
// operations: a circuit breaker, an exponential-backoff retry policy, and the
// invoker that composes the retry inside the breaker.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/validator"
)

// State is the circuit breaker state.
type State int

const (
	// Closed lets calls pass through while counting consecutive failures.
	Closed State = iota
	// Open rejects calls immediately until the recovery timeout elapses.
	Open
	// HalfOpen probes recovery; consecutive successes close the breaker
	// again, a single failure reopens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// successes required in HalfOpen before the breaker closes again
const halfOpenSuccessTarget = 2

// BreakerConfig holds circuit breaker tuning knobs.
type BreakerConfig struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeout  time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" envDefault:"60s"`
}

// Breaker tracks consecutive failures of a wrapped operation and fast-fails
// calls while the wrapped dependency is considered down. All state is guarded
// by a single mutex; the wrapped operation runs outside the lock.
type Breaker struct {
	cfg    BreakerConfig
	clock  clock.Clock
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureAt     time.Time
	halfOpenSuccesses int
}

// NewBreaker creates a circuit breaker. The clock is injectable so tests can
// drive the recovery timeout.
func NewBreaker(cfg BreakerConfig, clk clock.Clock, logger *zap.Logger) (*Breaker, error) {
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("invalid failure threshold: %d", cfg.FailureThreshold)
	}

	b := Breaker{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		state:  Closed,
	}

	if err := validator.Validate("breaker", b.clock, b.logger, b.cfg.RecoveryTimeout); err != nil {
		return nil, fmt.Errorf("failed to validate breaker deps: %w", err)
	}

	return &b, nil
}

// Execute attempts op through the breaker. If the breaker is open and the
// recovery window has not elapsed, it returns relay.ErrCircuitOpen without
// invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)

	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// admit decides whether a call may proceed, moving Open to HalfOpen once the
// recovery timeout has elapsed. The transition happens before the probing
// call executes.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}

	if b.clock.Now().Sub(b.lastFailureAt) < b.cfg.RecoveryTimeout {
		return relay.ErrCircuitOpen
	}

	b.state = HalfOpen
	b.halfOpenSuccesses = 0
	b.logger.Info("circuit breaker half-open, probing recovery")

	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.recordSuccess()
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= halfOpenSuccessTarget {
			b.state = Closed
			b.failureCount = 0
			b.halfOpenSuccesses = 0
			b.logger.Info("circuit breaker closed")
		}
	case Closed:
		b.failureCount = 0
	}
}

func (b *Breaker) recordFailure() {
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.lastFailureAt = b.clock.Now()
		b.halfOpenSuccesses = 0
		b.logger.Warn("circuit breaker reopened after failed probe")
	case Closed:
		b.failureCount++
		b.lastFailureAt = b.clock.Now()
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.logger.Warn("circuit breaker opened",
				zap.Int("failures", b.failureCount),
			)
		}
	}
}
