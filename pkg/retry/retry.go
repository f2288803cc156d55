// Package retry re-runs failed operations on an exponential schedule with
// jitter. Scheduling is delegated to cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ error }

func (e retryableError) Unwrap() error { return e.error }

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// Retryable marks err as worth another attempt under the default classifier.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err}
}

func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// Permanent stops retrying whatever the classifier says. Do returns the
// wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

type policy struct {
	attempts   int
	first      time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64
	retryIf    func(error) bool
	onRetry    func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Retrier. Out-of-range values are ignored.
type Option func(*policy)

// WithMaxAttempts counts the first attempt.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.first = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter sets the randomization factor, 0 for a fixed schedule.
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf replaces the default classifier, which retries only errors
// marked with Retryable.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.retryIf = fn }
}

// WithOnRetry is called after a failed attempt, before sleeping for delay.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// Retrier is immutable and safe to share.
type Retrier struct {
	p policy
}

// New returns a Retrier making 3 attempts starting at 100ms.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		first:      100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
		retryIf:    IsRetryable,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.retryIf == nil {
		p.retryIf = IsRetryable
	}
	return &Retrier{p: p}
}

// DatabaseRetrier is used for write transactions that lost a serialization
// race. Attempts are cheap so delays stay short.
func DatabaseRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(5),
		WithInitialDelay(20 * time.Millisecond),
		WithMaxDelay(500 * time.Millisecond),
		WithJitter(0.2),
	}, opts...)...)
}

// DirectoryRetrier is used for user-directory lookups, which already run
// under the caller's tight deadline.
func DirectoryRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(2),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(250 * time.Millisecond),
	}, opts...)...)
}

func (r *Retrier) schedule(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.p.first
	eb.MaxInterval = r.p.ceiling
	eb.Multiplier = r.p.multiplier
	eb.RandomizationFactor = r.p.jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.p.attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or runs out of
// attempts. The last error is returned without its Retryable marker. A
// cancelled ctx stops the loop before the next attempt.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op(ctx)
		var perm permanentError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &perm):
			return backoff.Permanent(perm.error)
		case !r.p.retryIf(err):
			return backoff.Permanent(err)
		}
		return err
	}, r.schedule(ctx), func(err error, delay time.Duration) {
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, err, delay)
		}
	})

	var marked retryableError
	if errors.As(err, &marked) {
		return marked.error
	}
	return err
}

// Do is shorthand for New(opts...).Do(ctx, op).
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData retries an operation that produces a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
