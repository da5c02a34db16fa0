package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable_MatchesKnownClasses(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("request timeout")))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(errors.New("ThrottlingException")))
	assert.False(t, IsRetryable(errors.New("validationException: bad field")))
	assert.False(t, IsRetryable(nil))
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableUpToMaxAttempts(t *testing.T) {
	policy := Policy{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond, JitterFactor: 0, MaxAttempts: 3}
	calls := 0
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryValidationErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), nil, func(ctx context.Context) error {
		calls++
		return errors.New("validationException")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreaker_TripsAfterThresholdFailures(t *testing.T) {
	b := NewCircuitBreaker()
	for i := 0; i < 5; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_HalfOpensAfterTimeoutAndClosesOnSuccesses(t *testing.T) {
	b := NewCircuitBreaker()
	b.halfOpenAfter = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow()) // transitions to half-open

	b.RecordSuccess()
	b.RecordSuccess()

	assert.True(t, b.Allow())
	b.RecordFailure() // closed state, just one failure, shouldn't trip
	assert.True(t, b.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker()
	b.halfOpenAfter = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())
}

func TestDo_CircuitOpenFailsFast(t *testing.T) {
	b := NewCircuitBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), b, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}
