// Package retry decides whether a failed capture job earns another
// attempt, with jittered exponential backoff between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Policy implements jittered exponential backoff over retryable capture
// failures.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a policy. maxAttempts counts total attempts, not retries;
// values below 1 get the default of 2 (one retry).
func New(maxAttempts int) *Policy {
	return NewWithDelays(maxAttempts, 2*time.Second, 30*time.Second)
}

// NewWithDelays builds a policy with explicit backoff timing.
func NewWithDelays(maxAttempts int, base, max time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	if max < base {
		max = base
	}
	return &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    max,
	}
}

// ShouldRetry decides whether the error is worth another attempt.
// Timeouts are transient: a portal that served the form slowly may serve
// the download fine on attempt two. Budget and validation failures are
// deterministic and never retried.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, engine.ErrCaptureTimeout),
		errors.Is(err, engine.ErrStabilizationTimeout):
		return true
	case errors.Is(err, engine.ErrFallbackBudgetExceeded),
		errors.Is(err, engine.ErrFallbackDisabled),
		errors.Is(err, engine.ErrValidationBlocked):
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Backoff returns the wait duration before the next attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *Policy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
