package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing(context.Context) error { return errDown }
func ok(context.Context) error      { return nil }

func TestBreaker_OpensAfterThresholdAndRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []State
	cb := New("test",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(clock.now),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, failing), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, failing), errDown)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.advance(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.now))
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.advance(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, failing), errDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenAdmitsLimitedTrials(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.now))
	ctx := context.Background()
	_ = cb.Execute(ctx, failing)
	clock.advance(2 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is below the default close threshold")
}

func TestBreaker_CustomFailureClassifier(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool { return !errors.Is(err, errDown) }))
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, "closed", cb.State().String())
}
