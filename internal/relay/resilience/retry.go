package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"wall/internal/validator"
)

// RetryConfig holds retry policy tuning knobs.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	Jitter      bool          `env:"RETRY_JITTER" envDefault:"true"`
}

// Retry re-invokes a fallible operation with capped exponential backoff up to
// MaxAttempts tries. The delay before attempt k (0-indexed) is
// min(MaxDelay, BaseDelay*2^k), optionally jittered by a uniform factor in
// [0.5, 1.0]. On exhausting attempts the last error is returned.
type Retry struct {
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetry creates a retry policy.
func NewRetry(cfg RetryConfig, logger *zap.Logger) (*Retry, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("invalid max attempts: %d", cfg.MaxAttempts)
	}

	r := Retry{
		cfg:    cfg,
		logger: logger,
	}

	if err := validator.Validate("retry", r.logger, r.cfg.BaseDelay, r.cfg.MaxDelay); err != nil {
		return nil, fmt.Errorf("failed to validate retry deps: %w", err)
	}

	return &r, nil
}

// Execute runs op, retrying transient failures until it succeeds, the attempt
// budget is spent, or ctx is cancelled.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&expBackOff{cfg: r.cfg}, uint64(r.cfg.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err != nil && attempt < r.cfg.MaxAttempts {
			r.logger.Warn("attempt failed, will retry",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, policy)
}

// expBackOff implements backoff.BackOff with the capped-exponential-plus-
// jitter delay schedule.
type expBackOff struct {
	cfg     RetryConfig
	attempt int
}

func (e *expBackOff) NextBackOff() time.Duration {
	delay := e.cfg.BaseDelay
	for i := 0; i < e.attempt && delay < e.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	if e.cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}

	e.attempt++
	return delay
}

func (e *expBackOff) Reset() {
	e.attempt = 0
}
