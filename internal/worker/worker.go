// Package worker implements the capture pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/audit"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/advance"
	"github.com/dealbridge/dealroom-capture/internal/engine/autofill"
	"github.com/dealbridge/dealroom-capture/internal/engine/classify"
	"github.com/dealbridge/dealroom-capture/internal/engine/consent"
	"github.com/dealbridge/dealroom-capture/internal/engine/download"
	"github.com/dealbridge/dealroom-capture/internal/engine/fallback"
	"github.com/dealbridge/dealroom-capture/internal/metrics"
	"github.com/dealbridge/dealroom-capture/internal/platform"
	"github.com/dealbridge/dealroom-capture/internal/policy/ratelimit"
	"github.com/dealbridge/dealroom-capture/internal/policy/retry"
	"github.com/dealbridge/dealroom-capture/internal/probe"
	"github.com/dealbridge/dealroom-capture/internal/progress"
)

// Session is one live browser page plus its release.
type Session interface {
	engine.Page
	Close()
}

// Opener starts a browser session navigated to the portal URL.
type Opener interface {
	Open(ctx context.Context, jobID, portalURL string) (Session, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic is the completion-event topic. Empty disables publishing.
	Topic string
	// BlobPrefix roots republished documents in the blob store.
	BlobPrefix  string
	ContentType string
	// ArtifactsRoot holds per-job audit directories.
	ArtifactsRoot string
	// MaxFormSteps is the default form-loop cap when neither the job nor
	// the platform profile supplies one.
	MaxFormSteps int
	// FallbackMaxSteps is the default assisted-step budget per job.
	FallbackMaxSteps int
	JobTimeout       time.Duration
	// MaxDocuments caps download triggers attempted per job.
	MaxDocuments int
}

func (c *Config) defaults() {
	if c.ContentType == "" {
		c.ContentType = "application/octet-stream"
	}
	if c.ArtifactsRoot == "" {
		c.ArtifactsRoot = "data/artifacts"
	}
	if c.MaxFormSteps <= 0 {
		c.MaxFormSteps = 5
	}
	if c.FallbackMaxSteps <= 0 {
		c.FallbackMaxSteps = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = 25
	}
}

// Deps are the collaborators a Worker drives. Prober, Limiter, Assist, and
// Hub are optional; everything else is required.
type Deps struct {
	Queue     engine.Queue
	JobStore  engine.JobStore
	BlobStore engine.BlobStore
	Publisher engine.Publisher
	Clock     engine.Clock
	Opener    Opener
	Prober    *probe.Prober
	Limiter   *ratelimit.Limiter
	Registry  *platform.Registry
	Assist    engine.AssistAdapter
	Stager    *download.Stager
	Retry     *retry.Policy
	Hub       *progress.Hub
	Bucket    engine.DataBucket

	FallbackCfg fallback.Config
	AdvanceCfg  advance.Config
	DownloadCfg download.Config
}

// Worker consumes queue items and executes the capture pipeline.
type Worker struct {
	deps       Deps
	cfg        Config
	filler     *autofill.Filler
	consent    *consent.Detector
	classifier *classify.Classifier
	logger     *zap.Logger
}

// New constructs a Worker. The classifier, filler, and consent detector are
// stateless and shared across jobs; the escalator and advancer are built per
// job because snapshots land in the job's artifacts directory.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := classify.New()
	return &Worker{
		deps:       deps,
		cfg:        cfg,
		filler:     autofill.New(classifier, logger),
		consent:    consent.New(logger),
		classifier: classifier,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item engine.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.deps.Clock.Now()
	counters := engine.JobCounters{}
	if item.Attempt > 1 {
		counters.Retries = item.Attempt - 1
	}

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, engine.JobStatusRunning, "", counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.emit(progress.Event{
		JobID: jobEventID(item.JobID),
		TS:    started.UTC(),
		Stage: progress.StageJobStart,
		URL:   item.Params.PortalURL,
	})

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	report, err := w.capture(jobCtx, item, &counters)
	cancel()

	status, errText := w.deriveFinalStatus(ctx, counters, err)

	if status == engine.JobStatusFailed && w.requeue(ctx, item, err) {
		counters.Retries++
		status = engine.JobStatusQueued
	}

	// The job context may already be dead; finalization gets its own budget.
	finCtx, finCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer finCancel()

	if err := w.deps.JobStore.UpdateJobStatus(finCtx, item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	if status != engine.JobStatusQueued {
		w.publishCompletion(finCtx, item, status, counters)
		metrics.ObserveJob(string(status))
	}
	w.writeStats(item, report, counters, status, errText, started)
	w.emitFinal(item, status, errText, started)
}

// captureReport carries what finalization needs from the capture pass.
type captureReport struct {
	host         string
	startMode    probe.StartMode
	stepsUsed    int
	maxSteps     int
	artifactsDir string
}

// capture runs probe, browser session, form loop, and acquisition for one
// job. Counters are updated in place so partial progress survives an error.
func (w *Worker) capture(ctx context.Context, item engine.QueueItem, counters *engine.JobCounters) (captureReport, error) {
	report := captureReport{startMode: probe.ModeUnknown}

	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, item.Params.PortalURL); err != nil {
			return report, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if w.deps.Prober != nil {
		if pr, err := w.deps.Prober.Probe(ctx, item.Params.PortalURL); err != nil {
			// Bot-blocked or JS-only portals fail the probe and still
			// work in a real browser.
			w.logger.Warn("portal probe failed",
				zap.String("job_id", item.JobID), zap.Error(err))
		} else {
			report.startMode = pr.Mode
			w.logger.Info("portal probe",
				zap.String("job_id", item.JobID),
				zap.String("mode", string(pr.Mode)),
				zap.Int("status", pr.StatusCode),
				zap.Int("document_links", pr.DocumentLinks))
		}
	}

	session, err := w.deps.Opener.Open(ctx, item.JobID, item.Params.PortalURL)
	if err != nil {
		return report, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	report.host = session.Host()
	profile, _ := w.deps.Registry.Lookup(report.host)

	recorder, err := audit.NewRecorder(filepath.Join(w.cfg.ArtifactsRoot, item.JobID), w.logger)
	if err != nil {
		return report, fmt.Errorf("audit recorder: %w", err)
	}
	report.artifactsDir = recorder.Dir()

	run := &engine.FallbackRunContext{
		MaxSteps:     valueOr(item.Params.FallbackMaxSteps, w.cfg.FallbackMaxSteps),
		ArtifactsDir: recorder.Dir(),
	}
	report.maxSteps = run.MaxSteps

	escalator := fallback.New(w.deps.FallbackCfg, w.deps.Assist, recorder, w.logger)
	advancer := advance.New(w.filler, w.consent, escalator, w.classifier, w.deps.AdvanceCfg, w.logger)

	if report.startMode != probe.ModeDocuments {
		if err := w.runFormLoop(ctx, advancer, session, item, profile, run, counters); err != nil {
			report.stepsUsed = run.StepsUsed
			counters.FallbackSteps = run.StepsUsed
			return report, err
		}
	}
	report.stepsUsed = run.StepsUsed
	counters.FallbackSteps = run.StepsUsed

	if err := w.acquireDocuments(ctx, session, item, profile, counters); err != nil {
		return report, err
	}
	return report, nil
}

// runFormLoop drives the consent/fill/advance loop until the document grid
// shows or the step budget runs out.
func (w *Worker) runFormLoop(
	ctx context.Context,
	advancer *advance.Advancer,
	session Session,
	item engine.QueueItem,
	profile platform.Profile,
	run *engine.FallbackRunContext,
	counters *engine.JobCounters,
) error {
	opts := advance.Options{
		Fill: autofill.Options{
			RequiredOnly:  item.Params.RequiredOnly,
			SkipSensitive: item.Params.SkipSensitive,
			Overrides:     profile.SelectorOverrides,
		},
		Consent: consent.Options{
			OptInAggressive: item.Params.OptInAggressive,
			ExtraPatterns:   profile.ConsentPatterns,
		},
		SubmitOverride: profile.SubmitSelector,
		MaxSteps:       formStepBudget(item.Params, profile, w.cfg.MaxFormSteps),
		Reached: func(ctx context.Context, page engine.Page) bool {
			return len(w.findTriggers(ctx, page, profile)) > 0
		},
	}

	stepStart := w.deps.Clock.Now()
	res, err := advancer.RunSteps(ctx, session, w.deps.Bucket, run, opts)
	for _, step := range res.Steps {
		counters.FieldsFilled += step.FieldsFilled
		counters.ConsentsApplied += consentCount(step.Consent)
		w.observeStep(item, session.Host(), step, stepStart)
		stepStart = w.deps.Clock.Now()
	}
	if err != nil {
		return fmt.Errorf("form loop: %w", err)
	}
	w.logger.Info("form loop finished",
		zap.String("job_id", item.JobID),
		zap.Int("steps", len(res.Steps)),
		zap.Int("fields_filled", res.FieldsFilled),
		zap.Bool("reached_goal", res.ReachedGoal))
	return nil
}

func (w *Worker) observeStep(item engine.QueueItem, host string, step advance.StepOutcome, start time.Time) {
	method := progress.MethodDeterministic
	if step.Method == engine.MethodAssisted {
		method = progress.MethodAssisted
		metrics.ObserveFallbackStep(host)
	}
	metrics.ObserveFieldsFilled(host, string(method), step.FieldsFilled)
	if step.Consent.BoxesChecked > 0 {
		metrics.ObserveConsent("checkbox")
	}
	if step.Consent.RadiosSelected > 0 {
		metrics.ObserveConsent("radio")
	}
	if step.Consent.ButtonClicked {
		metrics.ObserveConsent("button")
	}
	w.emit(progress.Event{
		JobID:  jobEventID(item.JobID),
		TS:     w.deps.Clock.Now().UTC(),
		Stage:  progress.StageFormStep,
		Site:   metrics.SanitizeHost(host),
		Fields: int64(step.FieldsFilled),
		Method: method,
		Dur:    w.deps.Clock.Now().Sub(start),
	})
	if step.Method == engine.MethodAssisted {
		w.emit(progress.Event{
			JobID:  jobEventID(item.JobID),
			TS:     w.deps.Clock.Now().UTC(),
			Stage:  progress.StageFallbackStep,
			Site:   metrics.SanitizeHost(host),
			Method: progress.MethodAssisted,
		})
	}
}

// requeue re-enqueues a retryable failure after backoff. It reports whether
// the item went back on the queue.
func (w *Worker) requeue(ctx context.Context, item engine.QueueItem, err error) bool {
	if w.deps.Retry == nil || !w.deps.Retry.ShouldRetry(err, item.Attempt) {
		return false
	}
	delay := w.deps.Retry.Backoff(item.Attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
	}
	next := item
	next.Attempt++
	if qErr := w.deps.Queue.Enqueue(ctx, next); qErr != nil {
		w.logger.Error("requeue failed", zap.String("job_id", item.JobID), zap.Error(qErr))
		return false
	}
	w.logger.Info("job requeued",
		zap.String("job_id", item.JobID),
		zap.Int("attempt", next.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(err))
	return true
}

func (w *Worker) publishCompletion(ctx context.Context, item engine.QueueItem, status engine.JobStatus, counters engine.JobCounters) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":           item.JobID,
		"deal_id":          item.Params.DealID,
		"portal_url":       item.Params.PortalURL,
		"status":           string(status),
		"documents_staged": counters.DocumentsStaged,
		"documents_failed": counters.DocumentsFailed,
		"fallback_steps":   counters.FallbackSteps,
		"timestamp":        w.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish completion failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (w *Worker) writeStats(
	item engine.QueueItem,
	report captureReport,
	counters engine.JobCounters,
	status engine.JobStatus,
	errText string,
	started time.Time,
) {
	if report.artifactsDir == "" {
		return
	}
	recorder, err := audit.NewRecorder(report.artifactsDir, w.logger)
	if err != nil {
		w.logger.Warn("run stats recorder failed", zap.Error(err))
		return
	}
	stats := audit.RunStats{
		JobID:           item.JobID,
		DealID:          item.Params.DealID,
		Host:            report.host,
		PortalURL:       item.Params.PortalURL,
		StartMode:       string(report.startMode),
		FallbackEnabled: !w.deps.FallbackCfg.Disabled,
		StepsUsed:       report.stepsUsed,
		MaxSteps:        report.maxSteps,
		FieldsFilled:    counters.FieldsFilled,
		ConsentsApplied: counters.ConsentsApplied,
		Documents:       counters.DocumentsStaged,
		Failures:        counters.DocumentsFailed,
		Outcome:         string(status),
		ErrorText:       errText,
		StartedAt:       started,
		Duration:        w.deps.Clock.Now().Sub(started).Round(time.Millisecond).String(),
		ArtifactsDir:    report.artifactsDir,
	}
	if err := recorder.WriteStats(stats); err != nil {
		w.logger.Warn("write run stats failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (w *Worker) emitFinal(item engine.QueueItem, status engine.JobStatus, errText string, started time.Time) {
	stage := progress.StageJobDone
	if status == engine.JobStatusFailed || status == engine.JobStatusCanceled {
		stage = progress.StageJobError
	}
	if status == engine.JobStatusQueued {
		return
	}
	w.emit(progress.Event{
		JobID: jobEventID(item.JobID),
		TS:    w.deps.Clock.Now().UTC(),
		Stage: stage,
		URL:   item.Params.PortalURL,
		Dur:   w.deps.Clock.Now().Sub(started),
		Note:  errText,
	})
}

func (w *Worker) deriveFinalStatus(ctx context.Context, counters engine.JobCounters, err error) (engine.JobStatus, string) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	switch {
	case ctx.Err() != nil:
		return engine.JobStatusCanceled, errText
	case err != nil:
		return engine.JobStatusFailed, errText
	case counters.DocumentsStaged == 0:
		return engine.JobStatusFailed, "no documents were staged"
	default:
		return engine.JobStatusSucceeded, errText
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Hub != nil {
		w.deps.Hub.Emit(evt)
	}
}

// jobEventID maps a job ID to the progress event form. Non-UUID IDs (test
// fixtures) are hashed into a stable UUID.
func jobEventID(jobID string) [16]byte {
	if id, err := uuid.Parse(jobID); err == nil {
		return progress.UUIDToBytes(id)
	}
	return progress.UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceURL, []byte(jobID)))
}

func formStepBudget(params engine.JobParameters, profile platform.Profile, fallback int) int {
	if params.MaxFormSteps > 0 {
		return params.MaxFormSteps
	}
	if profile.MaxFormSteps > 0 {
		return profile.MaxFormSteps
	}
	return fallback
}

func consentCount(res consent.Result) int {
	n := res.BoxesChecked + res.RadiosSelected
	if res.ButtonClicked {
		n++
	}
	return n
}

func valueOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// BucketFromProfile resolves the configured field-data profile into the
// canonical data bucket. Unknown key names are dropped.
func BucketFromProfile(profile map[string]string) engine.DataBucket {
	bucket := make(engine.DataBucket, len(profile))
	for name, value := range profile {
		key, ok := engine.ParseKey(name)
		if !ok {
			continue
		}
		bucket[key] = value
	}
	return bucket
}

var errNoTriggers = errors.New("no download triggers found on the document page")
