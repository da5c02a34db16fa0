package carrier

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrRateLimited is returned when a remote address exceeds the upgrade
// attempt rate limit.
var ErrRateLimited = errors.New("carrier: rate limited")

// ErrBadUserAgent is returned when the connecting client's User-Agent
// doesn't match an accepted carrier prefix.
var ErrBadUserAgent = errors.New("carrier: unrecognized user agent")

// ErrInvalidCallSID is returned when a start frame's call identifier
// doesn't meet the carrier's shape requirements.
var ErrInvalidCallSID = errors.New("carrier: invalid call sid")

// ErrCallNotActive is returned when a start frame's call identifier isn't
// registered as active.
var ErrCallNotActive = errors.New("carrier: call not registered active")

const (
	rateLimitWindow      = 60 * time.Second
	rateLimitMaxAttempts = 10
	callSIDLength        = 34
	callSIDPrefix        = "CA"
)

// AcceptedUserAgentPrefixes lists the carrier client signatures this link
// recognizes at upgrade time.
var AcceptedUserAgentPrefixes = []string{"TwilioProxy", "Twilio"}

// RateLimiter enforces a rolling-window cap on upgrade attempts per remote
// address.
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimiter constructs an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{attempts: make(map[string][]time.Time)}
}

// Allow records an attempt from remoteAddr and reports whether it falls
// within the rolling 60s / 10-attempt window.
func (r *RateLimiter) Allow(remoteAddr string) bool {
	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.attempts[remoteAddr][:0]
	for _, t := range r.attempts[remoteAddr] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rateLimitMaxAttempts {
		r.attempts[remoteAddr] = kept
		return false
	}
	r.attempts[remoteAddr] = append(kept, now)
	return true
}

// ValidateUpgrade checks the pre-upgrade conditions: rate limit by remote
// address and an accepted User-Agent prefix. URL parameters are
// intentionally not required here — call identifiers arrive in the start
// frame.
func ValidateUpgrade(limiter *RateLimiter, remoteAddr, userAgent string) error {
	if !limiter.Allow(remoteAddr) {
		return ErrRateLimited
	}
	for _, prefix := range AcceptedUserAgentPrefixes {
		if strings.HasPrefix(userAgent, prefix) {
			return nil
		}
	}
	return ErrBadUserAgent
}

// ValidateStartFrame checks the post-upgrade start-frame conditions: the
// call SID must have the carrier's shape (34 chars, "CA" prefix) and be
// registered active.
func ValidateStartFrame(registrar CallRegistrar, callSID string) error {
	if len(callSID) != callSIDLength || !strings.HasPrefix(callSID, callSIDPrefix) {
		return ErrInvalidCallSID
	}
	if registrar != nil && !registrar.IsActive(callSID) {
		return ErrCallNotActive
	}
	return nil
}
