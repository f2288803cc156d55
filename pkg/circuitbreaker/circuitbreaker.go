// Package circuitbreaker guards calls to a flaky collaborator.
// Leaderboard reads use it around the user directory: while the breaker is
// open, lookups fail fast and rows fall back to the placeholder name.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitOpen is returned without calling the guarded function.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while the half-open trial slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

type settings struct {
	tripAfter   int // consecutive failures while closed
	closeAfter  int // consecutive successes while half-open
	coolDown    time.Duration
	trials      int
	onChange    func(name string, from, to State)
	countsAsErr func(error) bool
	clock       func() time.Time
}

// Option tunes a breaker. Non-positive numbers are ignored.
type Option func(*settings)

func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.tripAfter = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.closeAfter = n
		}
	}
}

// WithTimeout sets how long the breaker stays open before it lets a trial through.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolDown = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.trials = n
		}
	}
}

// WithOnStateChange registers a callback run on every transition, under the
// breaker's lock. It must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onChange = fn }
}

// WithIsFailure replaces the default classifier, which ignores nil and
// context.Canceled.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.countsAsErr = fn }
}

// WithClock is for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.clock = now
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu       sync.Mutex
	state    State
	streak   int // consecutive failures (closed) or successes (half-open)
	inFlight int // trials running while half-open
	openedAt time.Time
}

// New builds a closed breaker. Defaults: trip after 5 failures, 30s cool-down,
// one trial, close after 2 successful trials.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		tripAfter:  5,
		closeAfter: 2,
		coolDown:   30 * time.Second,
		trials:     1,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// DirectoryBreaker is the breaker in front of the user directory. Hydration
// is best-effort, so it trips early and trials again soon.
func DirectoryBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return New("user-directory", append([]Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(15 * time.Second),
		WithOnStateChange(onStateChange),
	}, opts...)...)
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current position. An open breaker whose cool-down has
// elapsed still reads as open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute calls fn unless the breaker rejects it, then records the result.
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.clock().Sub(cb.openedAt) < cb.cfg.coolDown {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.trials {
			return ErrTooManyRequests
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.failed(err)
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.streak = 0
			return
		}
		if cb.streak++; cb.streak >= cb.cfg.tripAfter {
			cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		cb.inFlight--
		if failed {
			cb.moveTo(StateOpen)
			return
		}
		if cb.streak++; cb.streak >= cb.cfg.closeAfter {
			cb.moveTo(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) failed(err error) bool {
	if cb.cfg.countsAsErr != nil {
		return err != nil && cb.cfg.countsAsErr(err)
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(next State) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.streak = 0
	cb.inFlight = 0
	if next == StateOpen {
		cb.openedAt = cb.cfg.clock()
	}
	if cb.cfg.onChange != nil {
		cb.cfg.onChange(cb.name, prev, next)
	}
}
