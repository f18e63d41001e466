package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

func TestShouldRetryTimeoutErrors(t *testing.T) {
	t.Parallel()

	p := New(2)
	wrapped := fmt.Errorf("acquire document: %w", engine.ErrCaptureTimeout)
	if !p.ShouldRetry(wrapped, 1) {
		t.Fatal("capture timeout should be retryable")
	}
	if !p.ShouldRetry(engine.ErrStabilizationTimeout, 1) {
		t.Fatal("stabilization timeout should be retryable")
	}
}

func TestShouldRetryDeterministicFailures(t *testing.T) {
	t.Parallel()

	p := New(3)
	for _, err := range []error{
		engine.ErrFallbackBudgetExceeded,
		engine.ErrFallbackDisabled,
		engine.ErrValidationBlocked,
		context.Canceled,
		context.DeadlineExceeded,
		errors.New("portal rejected submission"),
	} {
		if p.ShouldRetry(err, 1) {
			t.Fatalf("expected %v to be terminal", err)
		}
	}
}

func TestShouldRetryRespectsAttemptCap(t *testing.T) {
	t.Parallel()

	p := New(2)
	if p.ShouldRetry(engine.ErrCaptureTimeout, 2) {
		t.Fatal("attempt cap reached, should not retry")
	}
	if p.ShouldRetry(nil, 1) {
		t.Fatal("nil error should not retry")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := New(5)
	first := p.Backoff(0)
	if first < time.Second || first > 2*time.Second {
		t.Fatalf("unexpected first backoff %v", first)
	}
	huge := p.Backoff(10)
	if huge > p.maxDelay {
		t.Fatalf("backoff %v exceeds cap %v", huge, p.maxDelay)
	}
}
