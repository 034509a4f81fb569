package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether a failed fetch attempt should be retried and
// how long to wait before the next one.
type RetryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	blockedDelay time.Duration
	maxDelay     time.Duration
}

// NewRetryPolicy builds a policy allowing maxAttempts total attempts with
// jittered exponential backoff between them.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		maxAttempts:  maxAttempts,
		baseDelay:    500 * time.Millisecond,
		blockedDelay: 5 * time.Second,
		maxDelay:     10 * time.Second,
	}
}

// ShouldRetry reports whether another attempt is warranted. Classified
// fetch failures are retried by kind: a per-request timeout wraps
// context.DeadlineExceeded, so the FetchError classification must win over
// the context-error check. Blocked responses are retried too, since the
// identity rotation gives the next attempt a different fingerprint. Bare
// context errors come from the caller and are never retried; the caller's
// liveness is its own to check.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	var ferr *FetchError
	if errors.As(err, &ferr) {
		switch ferr.Kind {
		case FetchBlocked, FetchTimeout, FetchNetwork:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the attempt-th retry (0-based).
// Blocked responses wait from a higher floor so the site's throttle window
// can pass.
func (p *RetryPolicy) Backoff(err error, attempt int) time.Duration {
	base := p.baseDelay
	var ferr *FetchError
	if errors.As(err, &ferr) && ferr.Kind == FetchBlocked {
		base = p.blockedDelay
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
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
