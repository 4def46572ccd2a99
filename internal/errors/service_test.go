// internal/errors/service_test.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		fatal     bool
		retryable bool
	}{
		{"auth", NewAuthError("login failed", nil), CodeAuth, true, false},
		{"session expired", NewSessionExpired("https://x/c/shoes", "login form present"), CodeSessionExpired, false, false},
		{"queue init", NewQueueInitError("no start urls"), CodeQueueInit, true, false},
		{"blocked", NewBlockedError("access denied"), CodeBlocked, false, true},
		{"wrapped blocked", fmt.Errorf("detail: %w", NewBlockedError("captcha")), CodeBlocked, false, true},
		{"timeout", NewNavigationTimeout("https://x", context.DeadlineExceeded), CodeNavigationTimeout, false, true},
		{"plain deadline", context.DeadlineExceeded, CodeNavigationTimeout, false, true},
		{"network text", stderrors.New("page load error net::ERR_CONNECTION_RESET"), CodeNetwork, false, true},
		{"dedup", NewDedupServiceError("503", nil), CodeDedupService, false, false},
		{"field missing", NewFieldMissing("sku", "https://x"), CodeFieldMissing, false, false},
		{"unknown", stderrors.New("selector exploded"), CodeInternal, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code() = %s, want %s", got, tt.code)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestBudgetExhaustedIs(t *testing.T) {
	err := fmt.Errorf("stop: %w", ErrBudgetExhausted)
	if !stderrors.Is(err, ErrBudgetExhausted) {
		t.Error("expected wrapped budget error to match")
	}
	if IsFatal(err) {
		t.Error("budget exhaustion must not be fatal")
	}
}

func TestBackoffWithinJitterRange(t *testing.T) {
	cfg := DefaultRetryConfig()
	for i := 0; i < 100; i++ {
		d := cfg.Backoff(1)
		if d < 5*time.Second || d > 10*time.Second {
			t.Fatalf("backoff %v outside [5s,10s]", d)
		}
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{BackoffMin: time.Second, BackoffMax: 2 * time.Second, GrowthFactor: 10, MaxDelay: 3 * time.Second}
	if d := cfg.Backoff(5); d != 3*time.Second {
		t.Errorf("Backoff(5) = %v, want 3s", d)
	}
}

func TestExecuteWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}

	attempts := 0
	err := ExecuteWithRetry(context.Background(), cfg, "flaky", func() error {
		attempts++
		return NewNetworkError("reset", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	attempts = 0
	err = ExecuteWithRetry(context.Background(), cfg, "auth", func() error {
		attempts++
		return NewAuthError("bad password", nil)
	})
	if err == nil || attempts != 1 {
		t.Errorf("fatal error should not be retried, attempts = %d", attempts)
	}
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("dedup", CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	if !cb.CanExecute() {
		t.Fatal("new breaker should be closed")
	}
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if cb.CanExecute() {
		t.Error("open breaker should reject calls")
	}

	now = now.Add(2 * time.Minute)
	if !cb.CanExecute() {
		t.Error("breaker should half-open after reset timeout")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Error("failure while half-open should reopen")
	}

	now = now.Add(2 * time.Minute)
	cb.CanExecute()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Error("success should close the breaker")
	}
}
