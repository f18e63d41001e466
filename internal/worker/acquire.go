package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/download"
	"github.com/dealbridge/dealroom-capture/internal/metrics"
	"github.com/dealbridge/dealroom-capture/internal/platform"
	"github.com/dealbridge/dealroom-capture/internal/progress"
)

var (
	triggerTextPattern = regexp.MustCompile(`(?i)\b(download|export|save a copy|get (?:file|document)s?)\b`)
	documentExtPattern = regexp.MustCompile(`(?i)\.(pdf|xlsx?|docx?|pptx?|csv|zip)\s*$`)
)

// trigger is one click expected to start a download.
type trigger struct {
	name  string
	click func(ctx context.Context) error
}

// findTriggers scans every frame for download-looking controls. A platform
// download selector, when configured, is tried as its own trigger first.
func (w *Worker) findTriggers(ctx context.Context, page engine.Page, profile platform.Profile) []trigger {
	var triggers []trigger
	if profile.DownloadSelector != "" {
		sel := profile.DownloadSelector
		triggers = append(triggers, trigger{
			name: string(sel),
			click: func(ctx context.Context) error {
				return clickInAnyFrame(ctx, page, sel)
			},
		})
	}

	frames, err := page.Frames(ctx)
	if err != nil {
		w.logger.Debug("trigger scan failed", zap.Error(err))
		return triggers
	}
	seen := make(map[engine.ControlRef]struct{})
	for _, frame := range frames {
		controls, err := frame.Controls(ctx)
		if err != nil {
			continue
		}
		for _, c := range controls {
			if !isTrigger(c) {
				continue
			}
			if _, dup := seen[c.Ref]; dup {
				continue
			}
			seen[c.Ref] = struct{}{}
			ref := c.Ref
			fr := frame
			triggers = append(triggers, trigger{
				name: triggerName(c),
				click: func(ctx context.Context) error {
					return fr.Click(ctx, ref)
				},
			})
		}
	}
	return triggers
}

// isTrigger matches visible download links and buttons: explicit download
// wording, or a link whose text names a document file.
func isTrigger(c engine.Control) bool {
	if !c.Visible || !c.Enabled {
		return false
	}
	switch {
	case c.Tag == "a", c.Tag == "button", c.Role == "button":
	case c.Tag == "input" && (c.Type == "button" || c.Type == "submit"):
	default:
		return false
	}
	haystack := strings.Join([]string{c.Text, c.AriaLabel, c.Label}, " ")
	if triggerTextPattern.MatchString(haystack) {
		return true
	}
	return c.Tag == "a" && documentExtPattern.MatchString(strings.TrimSpace(c.Text))
}

func triggerName(c engine.Control) string {
	for _, s := range []string{c.Text, c.AriaLabel, c.Label, string(c.Ref)} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return "unnamed"
}

func clickInAnyFrame(ctx context.Context, page engine.Page, ref engine.ControlRef) error {
	frames, err := page.Frames(ctx)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := frame.Click(ctx, ref); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no frame resolved %q", ref)
}

// acquireDocuments clicks each trigger and captures its download through the
// dual-channel watcher. Per-trigger failures are counted, not fatal; the job
// fails later only when nothing staged at all.
func (w *Worker) acquireDocuments(
	ctx context.Context,
	session Session,
	item engine.QueueItem,
	profile platform.Profile,
	counters *engine.JobCounters,
) error {
	triggers := w.findTriggers(ctx, session, profile)
	if len(triggers) == 0 {
		return errNoTriggers
	}
	if len(triggers) > w.cfg.MaxDocuments {
		w.logger.Warn("trigger count capped",
			zap.String("job_id", item.JobID),
			zap.Int("found", len(triggers)),
			zap.Int("cap", w.cfg.MaxDocuments))
		triggers = triggers[:w.cfg.MaxDocuments]
	}

	host := session.Host()
	for _, tr := range triggers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc, err := w.captureOne(ctx, session, item, profile, tr)
		if err != nil {
			counters.DocumentsFailed++
			metrics.ObserveDocument(host, "failed", 0)
			w.emit(progress.Event{
				JobID: jobEventID(item.JobID),
				TS:    w.deps.Clock.Now().UTC(),
				Stage: progress.StageDocFailed,
				Site:  metrics.SanitizeHost(host),
				Note:  err.Error(),
			})
			w.logger.Warn("document capture failed",
				zap.String("job_id", item.JobID),
				zap.String("trigger", tr.name),
				zap.Error(err))
			continue
		}
		counters.DocumentsStaged++
		metrics.ObserveDocument(host, "staged", doc.SizeBytes)
		w.emit(progress.Event{
			JobID: jobEventID(item.JobID),
			TS:    w.deps.Clock.Now().UTC(),
			Stage: progress.StageDocStaged,
			Site:  metrics.SanitizeHost(host),
			Bytes: doc.SizeBytes,
			Note:  doc.Name,
		})
	}
	return nil
}

// captureOne runs one trigger end to end: baseline, click, await, stage,
// republish, record. A capture timeout earns one repeated click before the
// trigger is abandoned.
func (w *Worker) captureOne(ctx context.Context, session Session, item engine.QueueItem, profile platform.Profile, tr trigger) (engine.DocumentRecord, error) {
	capture, err := w.awaitCapture(ctx, session, profile, tr)
	if errors.Is(err, engine.ErrCaptureTimeout) {
		w.logger.Info("retrying download trigger",
			zap.String("job_id", item.JobID),
			zap.String("trigger", tr.name))
		capture, err = w.awaitCapture(ctx, session, profile, tr)
	}
	if err != nil {
		return engine.DocumentRecord{}, err
	}

	doc, err := w.deps.Stager.Stage(ctx, item.JobID, item.Params.DealID, capture)
	if err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("stage %s: %w", capture.Name(), err)
	}

	uri, err := w.republish(ctx, item.Params.DealID, doc)
	if err != nil {
		return engine.DocumentRecord{}, err
	}
	doc.BlobURI = uri

	if err := w.deps.JobStore.RecordDocument(ctx, doc); err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("record document %s: %w", doc.Name, err)
	}
	w.logger.Info("document captured",
		zap.String("job_id", item.JobID),
		zap.String("name", doc.Name),
		zap.Int64("size_bytes", doc.SizeBytes),
		zap.String("blob_uri", doc.BlobURI))
	return doc, nil
}

// awaitCapture baselines the monitored directories, fires the trigger, and
// races the event channel against the filesystem poll. Platforms whose
// browsers ignore the managed directory declare their real write target in
// the profile.
func (w *Worker) awaitCapture(ctx context.Context, session Session, profile platform.Profile, tr trigger) (download.Capture, error) {
	dirs := []string{session.DownloadDir()}
	if profile.DownloadDir != "" {
		dirs = append(dirs, profile.DownloadDir)
	}
	watcher, err := download.NewWatcher(dirs, w.deps.DownloadCfg, w.deps.Clock, w.logger)
	if err != nil {
		return download.Capture{}, err
	}
	if err := tr.click(ctx); err != nil {
		return download.Capture{}, fmt.Errorf("click trigger %q: %w", tr.name, err)
	}

	start := w.deps.Clock.Now()
	capture, err := watcher.Await(ctx, session.DownloadEvents())
	metrics.ObserveDownloadWait(session.Host(), w.deps.Clock.Now().Sub(start))
	return capture, err
}

// republish pushes the staged file to the blob store under the deal prefix
// and returns the destination URI.
func (w *Worker) republish(ctx context.Context, dealID string, doc engine.DocumentRecord) (string, error) {
	local := strings.TrimPrefix(doc.BlobURI, "file://")
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	key := path.Join(strings.Trim(w.cfg.BlobPrefix, "/"), "deals", dealID, doc.Name)
	uri, err := w.deps.BlobStore.PutObject(ctx, key, w.cfg.ContentType, f)
	if err != nil {
		return "", fmt.Errorf("republish %s: %w", doc.Name, err)
	}
	return uri, nil
}
