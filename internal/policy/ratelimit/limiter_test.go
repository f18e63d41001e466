package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/dealbridge/dealroom-capture/internal/metrics"
)

func TestWaitFirstTokenIsImmediate(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	start := time.Now()
	if err := l.Wait(context.Background(), "https://deals.example.com/room/1"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first token should be immediate, waited %v", elapsed)
	}
}

func TestWaitThrottlesSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 20, DefaultBurst: 1})
	ctx := context.Background()
	if err := l.Wait(ctx, "https://deals.example.com/a"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://deals.example.com/b"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected second token to wait ~50ms, waited %v", elapsed)
	}
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	if err := l.Wait(ctx, "https://alpha.example.com/"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://beta.example.com/"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("different host should not share the bucket, waited %v", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	ctx := context.Background()
	if err := l.Wait(ctx, "https://slow.example.com/"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.example.com/"); err == nil {
		t.Fatal("expected context deadline error")
	}
}
