package upstream

import (
	"sync"
	"time"
)

// circuitState is the state of the upstream circuit breaker.
type circuitState int

const (
	circuitClosed   circuitState = iota // normal operation
	circuitOpen                         // failing, reject calls
	circuitHalfOpen                     // testing recovery
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// circuitBreaker gates entry to the retrying HTTP client: once the
// upstream has failed consecutively past the threshold, calls are
// rejected without paying the full retry budget, until a recovery
// timeout elapses. The breaker then goes half-open and lets calls
// through until the next reported outcome closes it (success) or
// re-opens it (failure). It sits one
// layer above the retry state machine — a call only reaches Allow once
// per request, and RecordFailure/RecordSuccess are reported once per
// request's overall outcome, not per retry attempt.
type circuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	failureCount     int
	failureThreshold int
	recoveryTimeout  time.Duration
	lastFailureTime  time.Time
}

func newCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *circuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &circuitBreaker{state: circuitClosed, failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	}
	return false
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		return
	}
	if cb.failureCount >= cb.failureThreshold {
		cb.state = circuitOpen
	}
}

func (cb *circuitBreaker) State() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = circuitClosed
	cb.failureCount = 0
}
