package resilience

import (
	"context"
	"fmt"

	"wall/internal/validator"
)

// Invoker composes the retry policy inside the circuit breaker. The retry
// absorbs transient errors silently; the breaker only sees the end result of
// each outer call, so a retry storm counts once toward the failure threshold.
type Invoker struct {
	breaker *Breaker
	retry   *Retry
}

// NewInvoker creates an invoker from a breaker and a retry policy.
func NewInvoker(breaker *Breaker, retry *Retry) (*Invoker, error) {
	i := Invoker{
		breaker: breaker,
		retry:   retry,
	}

	if err := validator.Validate("invoker", i.breaker, i.retry); err != nil {
		return nil, fmt.Errorf("failed to validate invoker deps: %w", err)
	}

	return &i, nil
}

// Execute runs op with retries inside the breaker. Returns
// relay.ErrCircuitOpen without invoking op when the breaker is open;
// callers may queue and retry later at a higher layer.
func (i *Invoker) Execute(ctx context.Context, op func(context.Context) error) error {
	return i.breaker.Execute(ctx, func(ctx context.Context) error {
		return i.retry.Execute(ctx, op)
	})
}

// State exposes the breaker state for status reporting.
func (i *Invoker) State() State {
	return i.breaker.State()
}
