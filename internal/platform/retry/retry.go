// Package retry runs outbound calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
)

// Policy configures retry behaviour.
type Policy struct {
	MaxRetries  int           // retries after the first attempt
	Initial     time.Duration // first wait, multiplied each retry
	Multiplier  float64
	MaxInterval time.Duration
	Jitter      float64
}

// DefaultPolicy is three retries starting at one second and doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		Initial:     time.Second,
		Multiplier:  2,
		MaxInterval: 30 * time.Second,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval < p.Initial {
		b.MaxInterval = p.Initial
	}
	b.RandomizationFactor = p.Jitter
	return b
}

// Do calls op until it succeeds, returns a permanent error, or the policy is
// exhausted. Provider 4xx responses and context errors are never retried.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	logger := logging.FromContext(ctx)
	attempt := 0

	operation := func() (T, error) {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		return out, classify(ctx, err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("retrying call",
				zap.String("call", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	if errors.Is(err, apierr.ErrNotConfigured) {
		return backoff.Permanent(err)
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		if !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		if apiErr.RetryAfter > 0 {
			return &retryAfterError{err: err, wait: apiErr.RetryAfter}
		}
	}
	return err
}

// retryAfterError carries a server-provided wait to backoff while keeping the
// original error visible to errors.Is and errors.As.
type retryAfterError struct {
	err  error
	wait time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func (e *retryAfterError) Unwrap() []error {
	return []error{e.err, backoff.RetryAfter(int(e.wait / time.Second))}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
