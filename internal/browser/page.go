package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/platform"
)

// Page is the chromedp-backed implementation of engine.Page. One Page per
// job; the worker closes it when the job finishes.
type Page struct {
	ctx         context.Context
	downloadDir string
	events      chan engine.DownloadEvent
	logger      *zap.Logger

	mu        sync.Mutex
	host      string
	suggested map[string]string // download GUID -> suggested filename
	closed    bool
	close     func()
}

// Close tears down the browser context and releases the session slot.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.close()
}

// Frames returns the main frame followed by every reachable same-origin
// iframe, outermost first. Cross-origin frames are invisible to the scan
// scripts and are skipped.
func (p *Page) Frames(ctx context.Context) ([]engine.Frame, error) {
	var paths [][]string
	if err := p.run(ctx, evaluate(frameDiscoveryScript, &paths)); err != nil {
		return nil, fmt.Errorf("discover frames: %w", err)
	}
	frames := []engine.Frame{&Frame{page: p, path: nil}}
	for _, path := range paths {
		frames = append(frames, &Frame{page: p, path: path})
	}
	return frames, nil
}

// URL returns the current top-level location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	p.mu.Lock()
	if h := platform.HostOf(location); h != "" {
		p.host = h
	}
	p.mu.Unlock()
	return location, nil
}

// Host returns the normalized host observed at the last navigation.
func (p *Page) Host() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// HTML returns the serialized top document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

// DownloadEvents returns the channel carrying download lifecycle events.
func (p *Page) DownloadEvents() <-chan engine.DownloadEvent {
	return p.events
}

// DownloadDir is the per-job directory Chrome writes downloads into.
func (p *Page) DownloadDir() string {
	return p.downloadDir
}

// captureEvent translates CDP download events onto the page's channel.
// The channel is buffered and sends never block; if the watcher is not
// polling events yet, the filesystem channel still catches the file.
func (p *Page) captureEvent(ev any) {
	switch e := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		p.mu.Lock()
		if p.suggested == nil {
			p.suggested = make(map[string]string)
		}
		p.suggested[e.GUID] = e.SuggestedFilename
		p.mu.Unlock()
		p.emit(engine.DownloadEvent{
			GUID:          e.GUID,
			SuggestedName: e.SuggestedFilename,
			State:         engine.DownloadBegun,
			At:            time.Now(),
		})
	case *cdpbrowser.EventDownloadProgress:
		p.mu.Lock()
		name := p.suggested[e.GUID]
		p.mu.Unlock()
		switch e.State {
		case cdpbrowser.DownloadProgressStateCompleted:
			p.emit(engine.DownloadEvent{
				GUID:          e.GUID,
				SuggestedName: name,
				Path:          e.FilePath,
				State:         engine.DownloadCompleted,
				ReceivedBytes: int64(e.ReceivedBytes),
				At:            time.Now(),
			})
		case cdpbrowser.DownloadProgressStateCanceled:
			p.emit(engine.DownloadEvent{
				GUID:          e.GUID,
				SuggestedName: name,
				State:         engine.DownloadCanceled,
				At:            time.Now(),
			})
		}
	}
}

func (p *Page) emit(ev engine.DownloadEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("download event dropped", zap.String("guid", ev.GUID), zap.String("state", string(ev.State)))
	}
}

// run executes actions on the page's browser context while honoring the
// caller's deadline.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
