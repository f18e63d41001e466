package progress

import "context"

// Sink receives batches of job milestones from the Hub. Implementations must
// honor ctx deadlines and tolerate concurrent Consume calls; a slow sink only
// costs its own timeout, never a capture worker.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual job milestones. Hub satisfies it, so capture
// workers stay agnostic about batching and persistence.
type Emitter interface {
	Emit(evt Event)
}
