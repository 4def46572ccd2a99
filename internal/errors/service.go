// internal/errors/service.go - Backoff and circuit breaking
package errors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	BackoffMin   time.Duration `yaml:"backoff_min" json:"backoff_min"`
	BackoffMax   time.Duration `yaml:"backoff_max" json:"backoff_max"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	GrowthFactor float64       `yaml:"growth_factor" json:"growth_factor"`
}

// DefaultRetryConfig returns the dispatcher defaults: 3 retries, 5-10s jitter
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BackoffMin:   5 * time.Second,
		BackoffMax:   10 * time.Second,
		MaxDelay:     2 * time.Minute,
		GrowthFactor: 1.0,
	}
}

// Backoff returns the jittered delay before retry number attempt (1-based).
// The base is drawn uniformly from [BackoffMin, BackoffMax] and grows by
// GrowthFactor per attempt, capped at MaxDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	base := c.BackoffMin
	if c.BackoffMax > c.BackoffMin {
		base += time.Duration(rand.Int63n(int64(c.BackoffMax - c.BackoffMin)))
	}
	if attempt > 1 && c.GrowthFactor > 1 {
		base = time.Duration(float64(base) * pow(c.GrowthFactor, float64(attempt-1)))
	}
	if c.MaxDelay > 0 && base > c.MaxDelay {
		base = c.MaxDelay
	}
	return base
}

// ExecuteWithRetry runs operation inline until it succeeds, returns a
// non-retryable error, or attempts are exhausted
func ExecuteWithRetry(ctx context.Context, cfg RetryConfig, operationName string, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Backoff(attempt)):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, cfg.MaxRetries+1, lastErr)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns a readable state name
func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// CircuitBreaker stops calling a failing dependency for a while
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	now             func() time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
	}
}

// CanExecute reports whether a call may go through
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().After(cb.nextAttemptTime) {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failure while half-open reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.nextAttemptTime = cb.now().Add(cb.resetTimeout)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
