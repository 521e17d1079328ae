// Package retry decides whether a failed catalog fetch is worth another attempt and how long to wait.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"strconv"
	"time"
)

// StatusError reports an unexpected HTTP status from an upstream.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.Code)
}

// ExponentialPolicy retries with jittered exponential backoff.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialPolicy builds a policy allowing maxAttempts total attempts.
func NewExponentialPolicy(maxAttempts int) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &ExponentialPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether err after the given 1-based attempt is retryable.
// Client errors (4xx) are final; server errors, network failures and per-attempt timeouts
// are retried.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
