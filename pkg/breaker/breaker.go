// Package breaker provides a circuit breaker for calls to unreliable
// external dependencies, shared safely across concurrent callers.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped function. Callers should back off rather than retry
// immediately.
var ErrCircuitOpen = errors.New("circuit breaker open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls when a breaker trips and recovers.
//
// IsFailure decides which errors count against the breaker; when nil every
// non-nil error counts. Context cancellation is never counted, since it says
// nothing about the health of the dependency.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
	IsFailure        func(error) bool
}

// DefaultConfig returns the breaker configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Failures        int        `json:"failures"`
	Successes       int        `json:"successes"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	TotalCalls      int64      `json:"total_calls"`
	TotalFailures   int64      `json:"total_failures"`
	TotalSuccesses  int64      `json:"total_successes"`
	TotalRejected   int64      `json:"total_rejected"`
}

// CircuitBreaker guards calls to one named external dependency. All state is
// protected by a single mutex so instances may be shared across goroutines.
type CircuitBreaker struct {
	name   string
	config Config
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejected   int64
}

func New(name string, config Config, logger *slog.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}

	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		logger: logger.With("module", "breaker", "breaker", name),
	}
}

// Call invokes fn through the breaker. When the breaker is open and the
// recovery timeout has not elapsed, fn is not invoked and the returned error
// wraps ErrCircuitOpen.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	err := cb.Allow()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && cb.countsAsFailure(ctx, err) {
		cb.RecordFailure()

		return err
	}

	cb.RecordSuccess()

	return err
}

func (cb *CircuitBreaker) countsAsFailure(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return false
	}

	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}

	return true
}

// Allow reports whether a call may proceed, performing the lazy
// open -> half_open transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.config.Timeout {
			cb.totalRejected++

			retryAfter := cb.config.Timeout - time.Since(cb.lastFailureTime)

			return fmt.Errorf("%w: %s unavailable, retry after %s", ErrCircuitOpen, cb.name, retryAfter.Round(time.Millisecond))
		}

		cb.transitionTo(StateHalfOpen, "recovery timeout elapsed")
		cb.successes = 0

		return nil
	case StateHalfOpen, StateClosed:
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

// RecordSuccess feeds a successful call outcome into the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed, fmt.Sprintf("%d consecutive successes in half_open", cb.successes))
			cb.failures = 0
			cb.successes = 0
		}
	case StateOpen:
		// Success observed after a racing Allow opened the circuit; ignored.
	}
}

// RecordFailure feeds a failed call outcome into the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case StateHalfOpen:
		cb.successes = 0
		cb.transitionTo(StateOpen, "failure during half_open probe")
	case StateOpen:
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := Stats{
		Name:           cb.name,
		State:          cb.state,
		Failures:       cb.failures,
		Successes:      cb.successes,
		TotalCalls:     cb.totalCalls,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		TotalRejected:  cb.totalRejected,
	}

	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		stats.LastFailureTime = &t
	}

	return stats
}

// Reset forces the breaker closed with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed, "manual reset")
	}

	cb.failures = 0
	cb.successes = 0
	cb.lastFailureTime = time.Time{}
}

// transitionTo must be called with the mutex held.
func (cb *CircuitBreaker) transitionTo(newState State, reason string) {
	oldState := cb.state
	cb.state = newState

	cb.logger.Info("Circuit breaker state change",
		"old_state", oldState,
		"new_state", newState,
		"reason", reason,
		"failures", cb.failures)
}
