package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})
	cb.now = func() time.Time { return now }

	fail := func() error { return errBoom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, CBClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, CBOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not call through")

	now = now.Add(31 * time.Second)
	assert.Equal(t, CBHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, CBHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, CBClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(2 * time.Second)
	require.Equal(t, CBHalfOpen, cb.State())

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, CBOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Trips: FeedErrorTrips})
	badRequest := &FeedError{Endpoint: "/asn-detail", StatusCode: 400}

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return badRequest }), badRequest)
	}
	assert.Equal(t, CBClosed, cb.State())

	_ = cb.Execute(func() error { return &FeedError{StatusCode: 503} })
	_ = cb.Execute(func() error { return &FeedError{StatusCode: 502} })
	assert.Equal(t, CBOpen, cb.State())
}

func TestFeedErrorTrips(t *testing.T) {
	assert.True(t, FeedErrorTrips(errBoom))
	assert.True(t, FeedErrorTrips(&FeedError{StatusCode: 500}))
	assert.True(t, FeedErrorTrips(&FeedError{StatusCode: 429}))
	assert.False(t, FeedErrorTrips(&FeedError{StatusCode: 404}))
	assert.False(t, FeedErrorTrips(context.Canceled))
}

func TestCircuitBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(2 * time.Second)

	inTrial := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inTrial)
			<-finish
			return nil
		})
	}()
	<-inTrial

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen, "second caller waits for the trial call")

	close(finish)
	require.NoError(t, <-done)
	assert.Equal(t, CBHalfOpen, cb.State())
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on a later attempt", func(t *testing.T) {
		var attempts []int
		err := Retry(context.Background(), 3, time.Millisecond, func(a int) error {
			attempts = append(attempts, a)
			if a < 2 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, attempts)
	})

	t.Run("returns last error", func(t *testing.T) {
		n := 0
		err := Retry(context.Background(), 2, time.Millisecond, func(int) error { n++; return errBoom })
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 2, n)
	})

	t.Run("permanent stops at once", func(t *testing.T) {
		n := 0
		err := Retry(context.Background(), 5, time.Millisecond, func(int) error { n++; return Permanent(errBoom) })
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, n)
	})

	t.Run("open circuit stops at once", func(t *testing.T) {
		n := 0
		err := Retry(context.Background(), 5, time.Millisecond, func(int) error { n++; return ErrCircuitOpen })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, n)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, 3, time.Hour, func(int) error { return errBoom })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
