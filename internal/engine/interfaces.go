package engine

import (
	"context"
	"io"
	"time"
)

// JobStore persists job and document metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordDocument(ctx context.Context, doc DocumentRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListDocuments(ctx context.Context, jobID string) ([]DocumentRecord, error)
}

// BlobStore republishes a staged document and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for capture jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// AssistAdapter performs one AI-delegated interaction step. Implementations
// receive a natural-language instruction about the single action to take
// and operate on the live page within the given deadline.
type AssistAdapter interface {
	Act(ctx context.Context, page Page, instruction string) error
}

// Hasher computes digests for staged-document integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
