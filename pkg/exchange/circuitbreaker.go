package exchange

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// breakerState is the circuit breaker's internal FSM state.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker implements the CLOSED -> OPEN -> HALF_OPEN -> CLOSED
// cycle in §4.1: OPEN after N consecutive failures, HALF_OPEN after a
// cool-down, CLOSED again after M consecutive successes in HALF_OPEN.
type CircuitBreaker struct {
	mu sync.Mutex

	state            breakerState
	openedAt         time.Time
	coolDown         time.Duration
	failThreshold    int
	successThreshold int

	consecutiveFails     int
	consecutiveSuccesses int
}

// NewCircuitBreaker builds a breaker that opens after failThreshold
// consecutive failures and closes again after successThreshold
// consecutive successes once half-open.
func NewCircuitBreaker(failThreshold, successThreshold int, coolDown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failThreshold:    failThreshold,
		successThreshold: successThreshold,
		coolDown:         coolDown,
	}
}

// Allow reports whether a call may proceed. It transitions OPEN ->
// HALF_OPEN once the cool-down has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(cb.openedAt) >= cb.coolDown {
			cb.state = breakerHalfOpen
			cb.consecutiveSuccesses = 0
			log.Warn().Msg("circuit breaker half-open: probing")
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	switch cb.state {
	case breakerHalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.state = breakerClosed
			log.Info().Msg("circuit breaker closed: recovered")
		}
	case breakerOpen:
		// A success while open should not happen (Allow() gates it), but
		// be defensive about external state mutation.
		cb.state = breakerClosed
	}
}

// RecordFailure registers a failed call, possibly opening the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	if cb.state == breakerHalfOpen {
		cb.trip()
		return
	}

	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = breakerOpen
	cb.openedAt = time.Now()
	log.Error().Int("consecutive_failures", cb.consecutiveFails).Msg("circuit breaker opened")
}

// State returns a human-readable state name, for observability.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}
