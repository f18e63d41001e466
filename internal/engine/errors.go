package engine

import "errors"

// Engine error taxonomy. Callers branch with errors.Is; the conditions are
// deliberately distinct so policy failures are never mistaken for
// deterministic ones.
var (
	// ErrValidationBlocked means the clean-form precondition failed:
	// visible validation errors remain after filling. Not retried
	// automatically; the step loop halts.
	ErrValidationBlocked = errors.New("validation errors present, advance blocked")

	// ErrAdvanceNotFound means no submit/continue control matched.
	// Surfaced, but non-fatal to the job.
	ErrAdvanceNotFound = errors.New("no advance control found")

	// ErrCaptureTimeout means neither download channel resolved before
	// its deadline. The caller may retry the triggering click once.
	ErrCaptureTimeout = errors.New("download capture timed out")

	// ErrStabilizationTimeout means a file appeared but never stopped
	// growing, which implies a genuine partial or corrupt download.
	ErrStabilizationTimeout = errors.New("download never stabilized")

	// ErrFallbackDisabled means assisted fallback is off globally or not
	// enabled for the current host. Never downgraded to a plain
	// deterministic failure.
	ErrFallbackDisabled = errors.New("assisted fallback disabled")

	// ErrFallbackBudgetExceeded means the per-run assisted step budget
	// is exhausted.
	ErrFallbackBudgetExceeded = errors.New("assisted fallback budget exceeded")
)
