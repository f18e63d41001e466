package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]engine.Job
	documents map[string][]engine.DocumentRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]engine.Job),
		documents: make(map[string][]engine.DocumentRecord),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job engine.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status engine.JobStatus,
	errText string,
	counters engine.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == engine.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordDocument appends a staged document row for a job.
func (s *JobStore) RecordDocument(_ context.Context, doc engine.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.JobID] = append(s.documents[doc.JobID], doc)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (engine.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return engine.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListDocuments returns all staged documents for a job.
func (s *JobStore) ListDocuments(_ context.Context, jobID string) ([]engine.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.documents[jobID]
	out := make([]engine.DocumentRecord, len(docs))
	copy(out, docs)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status engine.JobStatus) bool {
	switch status {
	case engine.JobStatusSucceeded, engine.JobStatusFailed, engine.JobStatusCanceled:
		return true
	default:
		return false
	}
}
