// Package audit records what a capture run did: page snapshots taken
// around assisted steps, and a JSON stats record per run.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Recorder writes run artifacts under a per-job directory.
type Recorder struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

// NewRecorder creates the artifacts directory and returns a recorder
// rooted there.
func NewRecorder(dir string, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifacts dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{dir: dir, maxBytes: 8 << 20, logger: logger}, nil
}

// Dir returns the artifacts directory.
func (r *Recorder) Dir() string { return r.dir }

// Snapshot saves the page's screenshot and serialized HTML under the
// given label. Each capture can fail independently; the returned error
// carries every failure.
func (r *Recorder) Snapshot(ctx context.Context, page engine.Page, label string) error {
	var errs []error

	if shot, err := page.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot %s: %w", label, err))
	} else if len(shot) > 0 {
		target := filepath.Join(r.dir, label+".png")
		if err := os.WriteFile(target, shot, 0o600); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", target, err))
		}
	}

	if html, err := page.HTML(ctx); err != nil {
		errs = append(errs, fmt.Errorf("serialize %s: %w", label, err))
	} else if html != "" {
		body := []byte(html)
		if int64(len(body)) > r.maxBytes {
			body = body[:r.maxBytes]
		}
		target := filepath.Join(r.dir, label+".html")
		if err := os.WriteFile(target, body, 0o600); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", target, err))
		}
	}

	return errors.Join(errs...)
}

// RunStats is the per-run audit record.
type RunStats struct {
	JobID           string    `json:"job_id"`
	DealID          string    `json:"deal_id,omitempty"`
	Host            string    `json:"host"`
	PortalURL       string    `json:"portal_url"`
	StartMode       string    `json:"start_mode,omitempty"`
	FallbackEnabled bool      `json:"fallback_enabled"`
	StepsUsed       int       `json:"fallback_steps_used"`
	MaxSteps        int       `json:"fallback_max_steps"`
	FieldsFilled    int       `json:"fields_filled"`
	ConsentsApplied int       `json:"consents_applied"`
	Documents       int       `json:"documents_staged"`
	Failures        int       `json:"documents_failed"`
	Outcome         string    `json:"outcome"`
	ErrorText       string    `json:"error_text,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	Duration        string    `json:"duration"`
	ArtifactsDir    string    `json:"artifacts_dir"`
}

// WriteStats persists the run record as run.json in the artifacts dir.
func (r *Recorder) WriteStats(stats RunStats) error {
	if stats.ArtifactsDir == "" {
		stats.ArtifactsDir = r.dir
	}
	payload, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	target := filepath.Join(r.dir, "run.json")
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write run stats %s: %w", target, err)
	}
	r.logger.Info("run stats written",
		zap.String("job_id", stats.JobID),
		zap.String("outcome", stats.Outcome),
		zap.Int("documents", stats.Documents),
	)
	return nil
}
