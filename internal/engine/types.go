package engine

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a capture job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures the per-job knobs carried by a webhook event.
type JobParameters struct {
	PortalURL        string            `json:"portal_url"`
	DealID           string            `json:"deal_id"`
	Platform         string            `json:"platform,omitempty"`
	MaxFormSteps     int               `json:"max_form_steps,omitempty"`
	RequiredOnly     bool              `json:"required_only,omitempty"`
	SkipSensitive    bool              `json:"skip_sensitive,omitempty"`
	OptInAggressive  bool              `json:"opt_in_aggressive,omitempty"`
	FallbackMaxSteps int               `json:"fallback_max_steps,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// Job is the metadata persisted for each webhook-triggered capture request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job outcomes.
type JobCounters struct {
	DocumentsStaged int `json:"documents_staged"`
	DocumentsFailed int `json:"documents_failed"`
	FieldsFilled    int `json:"fields_filled"`
	ConsentsApplied int `json:"consents_applied"`
	FallbackSteps   int `json:"fallback_steps"`
	Retries         int `json:"retries"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// DocumentRecord is persisted for each staged document.
type DocumentRecord struct {
	JobID       string    `json:"job_id"`
	DealID      string    `json:"deal_id"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentHash string    `json:"content_hash"`
	BlobURI     string    `json:"blob_uri"`
	StagedAt    time.Time `json:"staged_at"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job              `json:"job"`
	Documents []DocumentRecord `json:"documents"`
}

// Method records which path performed a single interaction step.
type Method string

// Interaction methods reported by step results.
const (
	MethodDeterministic Method = "deterministic"
	MethodAssisted      Method = "assisted"
)

// StepResult is returned for a single fill or submit action.
type StepResult struct {
	Method Method
}

// FallbackRunContext carries the assisted-fallback budget for one job.
// It is created once per job, mutated only by the fallback escalator, and
// never reset mid-job.
type FallbackRunContext struct {
	StepsUsed    int
	MaxSteps     int
	ArtifactsDir string
}

// Reserve accounts for one attempted delegation. Exceeding the budget is a
// hard failure, not a silent skip.
func (c *FallbackRunContext) Reserve() error {
	if c.StepsUsed >= c.MaxSteps {
		return fmt.Errorf("%w: %d of %d steps used", ErrFallbackBudgetExceeded, c.StepsUsed, c.MaxSteps)
	}
	c.StepsUsed++
	return nil
}

// Remaining reports how many assisted steps the budget still allows.
func (c *FallbackRunContext) Remaining() int {
	if c.StepsUsed >= c.MaxSteps {
		return 0
	}
	return c.MaxSteps - c.StepsUsed
}
