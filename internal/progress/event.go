// Package progress defines the event structures emitted by capture
// workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageFormStep     Stage = "FORM_STEP"
	StageDocStaged    Stage = "DOC_STAGED"
	StageDocFailed    Stage = "DOC_FAILED"
	StageFallbackStep Stage = "FALLBACK_STEP"
)

// Method labels which path performed an interaction, for low-cardinality
// partitioning in sinks.
type Method string

// Interaction methods tracked for form and fallback stages.
const (
	MethodDeterministic Method = "deterministic"
	MethodAssisted      Method = "assisted"
)

// Event captures a single milestone of capture progress.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Site scopes portal-facing events to a normalized host label.
	Site string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Bytes carries the staged document size for DOC_STAGED.
	Bytes int64
	// Fields counts form fields filled during a FORM_STEP.
	Fields int64
	// Method partitions FORM_STEP and FALLBACK_STEP events.
	Method Method
	// Dur captures execution latency for steps and job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageFormStep, StageFallbackStep:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StageDocStaged:
		if e.Site == "" {
			return errors.New("doc staged requires site")
		}
		if e.Bytes <= 0 {
			return errors.New("doc staged requires bytes")
		}
	case StageDocFailed:
		if e.Site == "" {
			return errors.New("doc failed requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for sinks.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
