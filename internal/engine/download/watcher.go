// Package download turns browser downloads into captured document files.
// Two channels feed the watcher: CDP download events and a filesystem poll
// over the monitored directories. The poll is the source of truth; events
// and fsnotify wakeups only sharpen its timing.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// tempSuffixes mark in-flight partial files written by browsers and
// download managers.
var tempSuffixes = []string{".crdownload", ".part", ".partial", ".download", ".tmp"}

// Config tunes one capture attempt.
type Config struct {
	// AppearTimeout bounds the wait for any new file to show up after
	// the triggering click.
	AppearTimeout time.Duration
	// StableTimeout bounds the wait for an appeared file to finish.
	StableTimeout time.Duration
	// PollInterval is the directory scan cadence.
	PollInterval time.Duration
	// StablePolls is how many consecutive unchanged-size polls, each at
	// least PollInterval after the last counted one, declare the file
	// complete.
	StablePolls int
}

func (c *Config) defaults() {
	if c.AppearTimeout <= 0 {
		c.AppearTimeout = 30 * time.Second
	}
	if c.StableTimeout <= 0 {
		c.StableTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.StablePolls <= 0 {
		c.StablePolls = 3
	}
}

// Capture is one finished download still sitting where the browser wrote it.
type Capture struct {
	// Path is the file inside a monitored directory. Callers copy it out;
	// the browser may still hold the name.
	Path string
	// SuggestedName is the server-proposed filename from the download
	// event, when one arrived. Empty means derive from Path.
	SuggestedName string
	SizeBytes     int64
}

// Name picks the best human filename for staging.
func (c Capture) Name() string {
	if c.SuggestedName != "" {
		return c.SuggestedName
	}
	return filepath.Base(c.Path)
}

// Watcher observes the monitored download directories across one trigger.
// The first directory is the browser-managed one; extra roots cover
// platforms whose browsers write outside the configured directory.
type Watcher struct {
	dirs     []string
	cfg      Config
	baseline map[string]struct{}
	clock    engine.Clock
	logger   *zap.Logger
}

// NewWatcher snapshots the contents of every directory as the baseline.
// Files already present never become candidates, so one watcher per
// trigger. The first directory must be readable; extra roots that cannot
// be scanned are dropped with a warning.
func NewWatcher(dirs []string, cfg Config, clock engine.Clock, logger *zap.Logger) (*Watcher, error) {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one download directory is required")
	}
	baseline := make(map[string]struct{})
	roots := make([]string, 0, len(dirs))
	seen := make(map[string]struct{}, len(dirs))
	for i, dir := range dirs {
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("baseline scan of %s: %w", dir, err)
			}
			logger.Warn("extra download root dropped", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, e := range entries {
			baseline[filepath.Join(dir, e.Name())] = struct{}{}
		}
		roots = append(roots, dir)
	}
	return &Watcher{dirs: roots, cfg: cfg, baseline: baseline, clock: clock, logger: logger}, nil
}

// candidate is the new file currently being tracked toward stability.
type candidate struct {
	dir         string
	name        string
	lastSize    int64
	stableScans int
	// countedAt is when the last scan counted toward stability. Nudged
	// scans arriving sooner than the poll interval observe the size but
	// never shorten the stable window.
	countedAt time.Time
}

// stem strips a known temp suffix so a rename from b.zip.crdownload (or
// b.tmp) to b.zip can be re-resolved to the same logical download.
func stem(name string) string {
	lower := strings.ToLower(name)
	for _, suf := range tempSuffixes {
		if strings.HasSuffix(lower, suf) {
			return name[:len(name)-len(suf)]
		}
	}
	return name
}

func isTemp(name string) bool {
	lower := strings.ToLower(name)
	for _, suf := range tempSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

// Await blocks until one download completes, the trigger proves dead, or the
// candidate never stabilizes. Events may be nil when the page cannot supply
// them; the poll alone still completes captures.
func (w *Watcher) Await(ctx context.Context, events <-chan engine.DownloadEvent) (Capture, error) {
	nudge := w.startNudger(ctx)

	appearBy := w.clock.Now().Add(w.cfg.AppearTimeout)
	var stableBy time.Time
	var cand *candidate
	var suggested string

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.State {
			case engine.DownloadBegun:
				// The browser committed to a download; restart the
				// appearance clock for the file itself.
				appearBy = w.clock.Now().Add(w.cfg.AppearTimeout)
				if ev.SuggestedName != "" {
					suggested = ev.SuggestedName
				}
			case engine.DownloadCanceled:
				return Capture{}, fmt.Errorf("browser canceled download %s", ev.GUID)
			case engine.DownloadCompleted:
				if done, ok := w.resolveEvent(ev, suggested); ok {
					return done, nil
				}
				// Completed event for a file the scan cannot see
				// yet. The poll will pick it up.
			}
		case <-nudge:
		case <-ticker.C:
		}

		now := w.clock.Now()
		found, ok := w.scan(cand, now)
		if !ok {
			// Tracked file vanished without a resolvable rename.
			cand = nil
		} else if found != nil {
			if cand == nil || found.dir != cand.dir || found.name != cand.name {
				stableBy = now.Add(w.cfg.StableTimeout)
			}
			cand = found
		}

		if cand == nil {
			if now.After(appearBy) {
				return Capture{}, fmt.Errorf("%w: no download appeared in %s", engine.ErrCaptureTimeout, w.cfg.AppearTimeout)
			}
			continue
		}

		if !isTemp(cand.name) && cand.lastSize > 0 && cand.stableScans >= w.cfg.StablePolls {
			path := filepath.Join(cand.dir, cand.name)
			return Capture{Path: path, SuggestedName: suggested, SizeBytes: cand.lastSize}, nil
		}
		if now.After(stableBy) {
			return Capture{}, fmt.Errorf("%w: %s never stabilized", engine.ErrStabilizationTimeout, cand.name)
		}
	}
}

// resolveEvent maps a completed CDP event to a file on disk.
func (w *Watcher) resolveEvent(ev engine.DownloadEvent, suggested string) (Capture, bool) {
	path := ev.Path
	if path == "" && ev.GUID != "" {
		// AllowAndName stores the payload under its GUID in the
		// browser-managed directory.
		path = filepath.Join(w.dirs[0], ev.GUID)
	}
	if path == "" {
		return Capture{}, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return Capture{}, false
	}
	name := suggested
	if name == "" {
		name = ev.SuggestedName
	}
	return Capture{Path: path, SuggestedName: name, SizeBytes: info.Size()}, true
}

// fileSeen is one non-baseline file found during a scan.
type fileSeen struct {
	dir  string
	name string
	size int64
}

// scan walks every monitored directory once and advances the candidate
// state machine. The bool result is false when the tracked candidate
// disappeared and no rename target could be found.
func (w *Watcher) scan(cand *candidate, now time.Time) (*candidate, bool) {
	var fresh []fileSeen
	for _, dir := range w.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn("download directory scan failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if _, old := w.baseline[filepath.Join(dir, name)]; old {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fresh = append(fresh, fileSeen{dir: dir, name: name, size: info.Size()})
		}
	}
	if len(fresh) == 0 {
		if cand != nil {
			return nil, false
		}
		return nil, true
	}

	interval := w.cfg.PollInterval
	if cand != nil {
		for _, f := range fresh {
			if f.dir == cand.dir && f.name == cand.name {
				return advanceCandidate(cand, f.dir, f.name, f.size, now, interval), true
			}
		}
		// The tracked name is gone. A temp file stripped of its suffix
		// in the same directory is the same download under its final
		// name.
		for _, f := range fresh {
			if f.dir != cand.dir {
				continue
			}
			if f.name == stem(cand.name) || stem(f.name) == stem(cand.name) {
				return advanceCandidate(nil, f.dir, f.name, f.size, now, interval), true
			}
		}
		return nil, false
	}

	// No candidate yet: prefer a finished-looking name over a temp one.
	pick := fresh[0]
	for _, f := range fresh[1:] {
		if isTemp(pick.name) && !isTemp(f.name) {
			pick = f
		}
	}
	return advanceCandidate(nil, pick.dir, pick.name, pick.size, now, interval), true
}

func advanceCandidate(prev *candidate, dir, name string, size int64, now time.Time, interval time.Duration) *candidate {
	next := &candidate{dir: dir, name: name, lastSize: size, countedAt: now}
	if prev == nil || prev.dir != dir || prev.name != name || prev.lastSize != size {
		return next
	}
	if now.Sub(prev.countedAt) < interval {
		// Too soon to count; carry the progress made so far.
		next.stableScans = prev.stableScans
		next.countedAt = prev.countedAt
		return next
	}
	next.stableScans = prev.stableScans + 1
	return next
}

// startNudger wires fsnotify as a poll accelerator. Failures are logged and
// ignored; the ticker alone is sufficient.
func (w *Watcher) startNudger(ctx context.Context) <-chan struct{} {
	nudge := make(chan struct{}, 1)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Debug("fsnotify unavailable, polling only", zap.Error(err))
		return nudge
	}
	added := 0
	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			w.logger.Debug("fsnotify add failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		added++
	}
	if added == 0 {
		fw.Close()
		return nudge
	}
	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-fw.Events:
				if !ok {
					return
				}
				select {
				case nudge <- struct{}{}:
				default:
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nudge
}
