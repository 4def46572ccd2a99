// internal/utils/poll.go

package utils

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned by PollUntil when the predicate never held.
var ErrPollTimeout = errors.New("poll timed out")

// PollUntil evaluates predicate every interval until it returns true, returns an
// error, the timeout elapses or ctx is done. The predicate runs once immediately.
func PollUntil(ctx context.Context, interval, timeout time.Duration, predicate func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
