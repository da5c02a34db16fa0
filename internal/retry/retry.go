// Package retry implements the exponential-backoff retry policy and the
// circuit breaker guarding Model RPC stream initiation.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Policy is the exponential backoff schedule for retrying RPC initiation.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
	MaxAttempts  int
}

// DefaultPolicy matches the spec: 1s initial, x2, 30s cap, 10% jitter, 3
// attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
		MaxAttempts:  3,
	}
}

var retryablePattern = regexp.MustCompile(`(?i)timeout|network|connection|throttling|service unavailable|internal server error|too many requests`)

// IsRetryable reports whether err's message matches one of the retryable
// failure classes. Validation errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return retryablePattern.MatchString(err.Error()) && !strings.Contains(strings.ToLower(err.Error()), "validation")
}

// delayFor returns the backoff delay to wait after failed attempt n
// (1-indexed) before the next one: InitialDelay * Multiplier^(n-1), capped
// at MaxDelay, with jitter applied.
func (p Policy) delayFor(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := d * p.JitterFactor * (rand.Float64()*2 - 1)
	d += jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ErrCircuitOpen is returned by Do when the circuit breaker is open.
var ErrCircuitOpen = errors.New("retry: circuit breaker open")

// breakerState is one phase of the circuit breaker's state machine.
type breakerState int

const (
	closedState breakerState = iota
	openState
	halfOpenState
)

// CircuitBreaker guards a flaky dependency shared across many callers (one
// Model RPC model id in this bridge): once open, every caller fails fast
// instead of independently retrying a known-down dependency.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold        int
	halfOpenAfter    time.Duration
	successesToClose int

	state           breakerState
	consecutiveFail int
	successes       int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker with the spec defaults: trip after
// 5 consecutive failures, half-open after 60s, close after 2 successes.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		threshold:        5,
		halfOpenAfter:    60 * time.Second,
		successesToClose: 2,
	}
}

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// once halfOpenAfter has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closedState:
		return true
	case openState:
		if time.Since(b.openedAt) >= b.halfOpenAfter {
			b.state = halfOpenState
			b.successes = 0
			return true
		}
		return false
	case halfOpenState:
		return true
	default:
		return true
	}
}

// RecordSuccess registers a successful call, closing the breaker once
// successesToClose consecutive successes have been observed in HalfOpen.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case halfOpenState:
		b.successes++
		if b.successes >= b.successesToClose {
			b.state = closedState
			b.consecutiveFail = 0
		}
	case closedState:
		b.consecutiveFail = 0
	}
}

// RecordFailure registers a failed call, tripping the breaker after
// threshold consecutive failures (or immediately on a HalfOpen failure).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case halfOpenState:
		b.state = openState
		b.openedAt = time.Now()
	case closedState:
		b.consecutiveFail++
		if b.consecutiveFail >= b.threshold {
			b.state = openState
			b.openedAt = time.Now()
		}
	}
}

// Do runs fn under the retry policy and circuit breaker: each attempt
// checks Allow() first, then retries retryable failures with backoff up to
// MaxAttempts.
func Do(ctx context.Context, policy Policy, breaker *CircuitBreaker, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if breaker != nil && !breaker.Allow() {
			return ErrCircuitOpen
		}

		err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}

		if !IsRetryable(err) || attempt == policy.MaxAttempts {
			return err
		}

		select {
		case <-time.After(policy.delayFor(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
