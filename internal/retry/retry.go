// Package retry classifies transient errors and runs bounded retry loops.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// IsRetryableError classifies whether an error should be retried.
// Typed AutoflowErrors decide by code; network errors, deadline errors and
// common transient messages (including SQLite busy/locked) are retryable.
// Everything else is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var afErr *schema.AutoflowError
	if errors.As(err, &afErr) {
		if afErr.IsRetryable() {
			return true
		}
		if afErr.Cause == nil {
			return false
		}
		return isTransientMessage(afErr.Cause)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return isTransientMessage(err)
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"i/o timeout",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"too many requests",
	"database is locked",
	"database is busy",
	"sqlite_busy",
}

func isTransientMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
// Supports none, constant, linear, and exponential backoff with optional max_delay cap.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base << uint(attempt)
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // "none", "constant" or empty
		delay = base
	}

	if policy.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(policy.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with ctx.Err().
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy's
// attempts are exhausted. It returns the last error and the number of retries
// performed.
func Do(ctx context.Context, policy *schema.RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	maxRetries := 0
	if policy != nil && policy.Max > 0 {
		maxRetries = policy.Max
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if attempt >= maxRetries || !IsRetryableError(err) {
			return attempt, err
		}
		if werr := WaitForBackoff(ctx, ComputeBackoff(policy, attempt)); werr != nil {
			return attempt, err
		}
	}
}
