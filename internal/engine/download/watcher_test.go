package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbridge/dealroom-capture/internal/clock/system"
	"github.com/dealbridge/dealroom-capture/internal/engine"
)

func fastConfig() Config {
	return Config{
		AppearTimeout: 300 * time.Millisecond,
		StableTimeout: 2 * time.Second,
		PollInterval:  10 * time.Millisecond,
		StablePolls:   3,
	}
}

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestAwaitCapturesStableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		write(t, dir, "teaser.pdf", []byte("pdf-bytes"))
	}()

	got, err := w.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "teaser.pdf"), got.Path)
	assert.Equal(t, int64(len("pdf-bytes")), got.SizeBytes)
	assert.Equal(t, "teaser.pdf", got.Name())
}

func TestAwaitFollowsTempRename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	go func() {
		tmp := write(t, dir, "b.zip.crdownload", []byte("part"))
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, os.WriteFile(tmp, []byte("partial-then-more"), 0o644))
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, os.Rename(tmp, filepath.Join(dir, "b.zip")))
	}()

	got, err := w.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.zip"), got.Path)
	assert.Equal(t, int64(len("partial-then-more")), got.SizeBytes)
}

func TestAwaitZeroByteThenGrowth(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	path := write(t, dir, "cim.pdf", nil)
	go func() {
		time.Sleep(80 * time.Millisecond)
		require.NoError(t, os.WriteFile(path, []byte("late content"), 0o644))
	}()

	got, err := w.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len("late content")), got.SizeBytes)
}

func TestAwaitNoFileTimesOut(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := fastConfig()
	cfg.AppearTimeout = 80 * time.Millisecond
	w, err := NewWatcher([]string{dir}, cfg, system.New(), nil)
	require.NoError(t, err)

	_, err = w.Await(context.Background(), nil)
	require.ErrorIs(t, err, engine.ErrCaptureTimeout)
}

func TestAwaitStuckTempNeverStabilizes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := fastConfig()
	cfg.StableTimeout = 150 * time.Millisecond
	w, err := NewWatcher([]string{dir}, cfg, system.New(), nil)
	require.NoError(t, err)

	write(t, dir, "stuck.pdf.crdownload", []byte("never finishes"))

	_, err = w.Await(context.Background(), nil)
	require.ErrorIs(t, err, engine.ErrStabilizationTimeout)
}

func TestAwaitBaselineFilesIgnored(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "stale.pdf", []byte("from an earlier job"))

	cfg := fastConfig()
	cfg.AppearTimeout = 80 * time.Millisecond
	w, err := NewWatcher([]string{dir}, cfg, system.New(), nil)
	require.NoError(t, err)

	_, err = w.Await(context.Background(), nil)
	require.ErrorIs(t, err, engine.ErrCaptureTimeout)
}

func TestAwaitCompletedEventShortCircuits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	write(t, dir, "3f2a", []byte("guid-named payload"))

	events := make(chan engine.DownloadEvent, 2)
	events <- engine.DownloadEvent{GUID: "3f2a", SuggestedName: "Q3 Teaser.pdf", State: engine.DownloadBegun}
	events <- engine.DownloadEvent{GUID: "3f2a", State: engine.DownloadCompleted}

	got, err := w.Await(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "3f2a"), got.Path)
	assert.Equal(t, "Q3 Teaser.pdf", got.Name())
}

func TestAwaitCanceledEventFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	events := make(chan engine.DownloadEvent, 1)
	events <- engine.DownloadEvent{GUID: "3f2a", State: engine.DownloadCanceled}

	_, err = w.Await(context.Background(), events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
}

func TestAwaitNudgeStormKeepsStableWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := fastConfig()
	cfg.PollInterval = 60 * time.Millisecond
	w, err := NewWatcher([]string{dir}, cfg, system.New(), nil)
	require.NoError(t, err)

	// A slow writer: the first chunk lands immediately, the rest only
	// after the window a nudge storm could otherwise collapse.
	full := []byte("slowly written document body")
	path := write(t, dir, "cim.pdf", full[:7])
	go func() {
		time.Sleep(90 * time.Millisecond)
		require.NoError(t, os.WriteFile(path, full, 0o644))
	}()

	// Metadata churn fires scans far faster than the poll interval.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
				_ = os.Chtimes(path, time.Now(), time.Now())
			}
		}
	}()

	got, err := w.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(full)), got.SizeBytes,
		"partial size must never be declared stable")
}

func TestAwaitSecondRootCapturesStrayWrite(t *testing.T) {
	t.Parallel()

	managed := t.TempDir()
	stray := t.TempDir()
	w, err := NewWatcher([]string{managed, stray}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		write(t, stray, "nda.docx", []byte("outside the managed dir"))
	}()

	got, err := w.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(stray, "nda.docx"), got.Path)
	assert.Equal(t, "nda.docx", got.Name())
}

func TestNewWatcherDropsUnreadableExtraRoot(t *testing.T) {
	t.Parallel()

	managed := t.TempDir()
	w, err := NewWatcher([]string{managed, filepath.Join(managed, "missing")}, fastConfig(), system.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{managed}, w.dirs)

	_, err = NewWatcher([]string{filepath.Join(managed, "missing")}, fastConfig(), system.New(), nil)
	require.Error(t, err, "the managed directory itself must exist")
}

func TestAwaitContextCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, fastConfig(), system.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Await(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
