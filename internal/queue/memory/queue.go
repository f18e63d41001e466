// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan engine.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan engine.QueueItem, capacity),
	}
}

// Enqueue pushes a capture job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job engine.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (engine.QueueItem, error) {
	select {
	case <-ctx.Done():
		return engine.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return engine.QueueItem{}, errors.New("queue closed")
		}
		return job, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
