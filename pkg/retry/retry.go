// Package retry runs outbound calls under a bounded, rate-limit aware
// backoff policy shared by the Slack, LLM and embedding clients.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds the retries of a single call.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     60 * time.Second,
	}
}

// RateLimitError marks an HTTP 429 style rejection. RetryAfter is the delay
// requested by the server, zero when the server gave none.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrExhausted wraps the last error once every retry has been used.
var ErrExhausted = errors.New("retries exhausted")

// Do runs op until it succeeds, returns a permanent error, the context ends or
// the retry budget is spent. Rate limit errors wait for the server supplied
// delay when present and for the exponential backoff otherwise.
func Do[T any](ctx context.Context, p Policy, logger *slog.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	var (
		lastErr  error
		attempts int
	)
	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsPermanent(err) {
			return zero, backoff.Permanent(err)
		}
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			return zero, &backoff.RetryAfterError{Duration: rl.RetryAfter}
		}
		return zero, err
	}
	notify := func(_ error, wait time.Duration) {
		logger.WarnContext(ctx, "retrying call",
			"call", name,
			"attempt", attempts,
			"max_retries", p.MaxRetries,
			"wait", wait,
			"error", lastErr)
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)+1)),
		backoff.WithNotify(notify),
	)
	switch {
	case err == nil:
		return v, nil
	case IsPermanent(lastErr):
		return zero, lastErr
	case ctx.Err() != nil:
		return zero, fmt.Errorf("%s: %w", name, errors.Join(context.Cause(ctx), lastErr))
	default:
		return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempts, lastErr)
	}
}
