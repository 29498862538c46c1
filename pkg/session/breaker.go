// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of the stream-open circuit breaker.
//
// # States
//
//   - Closed: Normal operation, turns open streams freely
//   - Open: Too many consecutive open failures, turns fail fast
//   - HalfOpen: Probing whether the service recovered
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means stream opens are rejected immediately.
	CircuitOpen

	// CircuitHalfOpen means limited opens are allowed to test recovery.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when the breaker rejects a stream open.
var ErrCircuitOpen = errors.New("analysis service unavailable (circuit open)")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive failures before opening circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long to stay open before trying half-open.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker guards stream opens against a down analysis service.
//
// # Description
//
// When the service is unreachable, repeatedly opening streams just
// makes each turn wait out a connect timeout. After a run of failures
// the breaker opens and turns fail fast with ErrCircuitOpen; after
// OpenTimeout it lets probe requests through to test recovery.
//
// Only the open of the stream counts: an error event arriving on an
// already-open stream is an answer-level failure, not a service-level
// one, and does not trip the breaker.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	mu          sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// Execute runs the function if the circuit allows it.
//
// # Outputs
//
//   - error: ErrCircuitOpen if the circuit is open, or the error from fn
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// allowRequest checks if a request should be allowed.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		return false

	case CircuitHalfOpen:
		return true

	default:
		return false
	}
}

// recordResult records the result of an operation.
func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open goes back to open
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successes++

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}

	old := cb.state
	cb.state = state

	if cb.config.OnStateChange != nil {
		// Call callback without holding lock to prevent deadlocks
		go cb.config.OnStateChange(old, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset forces the circuit to closed state, clearing all counts. Use
// when the service is known to be back up.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0

	if old != CircuitClosed && cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, CircuitClosed)
	}
}
