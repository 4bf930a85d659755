// Package retry runs fallible operations under a bounded exponential-backoff
// policy. It is applied as a decorator around extractors and never embedded
// in their data-fetching logic.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// ErrRetryExhausted matches every *ExhaustedError via errors.Is.
var ErrRetryExhausted = errors.New("retry exhausted")

// ExhaustedError reports that every attempt failed. Err is the last
// underlying failure and is reachable through errors.Is / errors.As.
type ExhaustedError struct {
	Operation string
	Attempts  uint
	Err       error
}

func (e *ExhaustedError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: retry exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// AttemptTimeout bounds a single attempt. Zero means only the caller's
	// context applies. An attempt that hits it is retried like any other
	// transient failure.
	AttemptTimeout time.Duration
}

// DefaultPolicy is 3 attempts, 1s initial delay doubling up to 10s, with
// two minutes per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 2 * time.Minute,
	}
}

// Backoff returns the wait after the n-th failed attempt (0-based):
// min(InitialDelay * Multiplier^n, MaxDelay).
func (p Policy) Backoff(n uint) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type options struct {
	operation string
	permanent []error
	onRetry   func(attempt uint, err error, wait time.Duration)
}

// Option customises a single Do call.
type Option func(*options)

// Operation names the operation in the ExhaustedError message.
func Operation(name string) Option {
	return func(o *options) { o.operation = name }
}

// Permanent marks errors that must not be retried. Any error matching one of
// errs via errors.Is is returned immediately, unwrapped.
func Permanent(errs ...error) Option {
	return func(o *options) { o.permanent = append(o.permanent, errs...) }
}

// OnRetry is called after a failed attempt that will be followed by another
// one. attempt is 1-based.
func OnRetry(fn func(attempt uint, err error, wait time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls fn until it succeeds, a permanent error is returned, ctx is done,
// or p.MaxAttempts attempts have failed. In the last case the result is an
// *ExhaustedError wrapping the final failure.
//
// Waiting between attempts only parks the calling goroutine.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		// retry-go treats zero as unlimited.
		maxAttempts = 1
	}

	var (
		attempts  uint
		lastErr   error
		permanent bool
	)

	isPermanent := func(err error) bool {
		for _, target := range o.permanent {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}

	attempt := func() (T, error) {
		attempts++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := fn(actx)
		if err != nil {
			lastErr = err
			if isPermanent(err) {
				permanent = true
			}
		}
		return v, err
	}

	v, err := retrygo.DoWithData(attempt,
		retrygo.Context(ctx),
		retrygo.Attempts(maxAttempts),
		retrygo.LastErrorOnly(true),
		retrygo.MaxDelay(p.MaxDelay),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return p.Backoff(n)
		}),
		retrygo.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !isPermanent(err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			if o.onRetry != nil && n+1 < maxAttempts && ctx.Err() == nil && !isPermanent(err) {
				o.onRetry(n+1, err, p.Backoff(n))
			}
		}),
	)
	if err == nil {
		return v, nil
	}

	var zero T
	switch {
	case permanent:
		return zero, lastErr
	case ctx.Err() != nil:
		if lastErr != nil {
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
		return zero, ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	return zero, &ExhaustedError{Operation: o.operation, Attempts: attempts, Err: lastErr}
}
