// Package browser drives headless Chrome through chromedp and exposes
// live pages to the capture engine.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/platform"
)

// Config controls the behavior of browser sessions.
type Config struct {
	Headless          bool
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	DownloadRoot      string
	ExecPath          string
	WindowWidth       int
	WindowHeight      int
	DisableSandbox    bool
}

// Manager owns a shared Chrome allocator and hands out one page per job.
type Manager struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewManager creates a session manager backed by a single exec allocator.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.DownloadRoot == "" {
		cfg.DownloadRoot = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.DisableSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Manager{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context and with it every open page.
func (m *Manager) Close() {
	m.allocCancel()
}

// Open navigates a fresh browser context to the portal URL and returns the
// live page. Downloads land under DownloadRoot/<jobID>, stored by GUID so
// hostile filenames never touch the filesystem unsanitized.
func (m *Manager) Open(ctx context.Context, jobID, portalURL string) (*Page, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}

	downloadDir := filepath.Join(m.cfg.DownloadRoot, jobID)
	if err := os.MkdirAll(downloadDir, 0o750); err != nil {
		m.release()
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	taskCtx, taskCancel := chromedp.NewContext(m.allocator)

	page := &Page{
		ctx:         taskCtx,
		downloadDir: downloadDir,
		events:      make(chan engine.DownloadEvent, 16),
		logger:      m.logger.With(zap.String("job_id", jobID)),
		close: func() {
			taskCancel()
			m.release()
		},
	}
	chromedp.ListenTarget(taskCtx, page.captureEvent)

	navCtx, cancel := context.WithTimeout(taskCtx, m.cfg.NavigationTimeout)
	defer cancel()

	actions := []chromedp.Action{
		m.sessionSetupAction(downloadDir),
		chromedp.Navigate(portalURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	var location string
	actions = append(actions, chromedp.Location(&location))
	if err := chromedp.Run(navCtx, actions...); err != nil {
		page.Close()
		return nil, fmt.Errorf("open %s: %w", portalURL, err)
	}
	page.host = platform.HostOf(location)

	m.logger.Info("page opened",
		zap.String("job_id", jobID),
		zap.String("url", location),
		zap.String("host", page.host),
	)
	return page, nil
}

func (m *Manager) sessionSetupAction(downloadDir string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if m.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(m.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		width, height := m.cfg.WindowWidth, m.cfg.WindowHeight
		if width <= 0 || height <= 0 {
			width, height = 1440, 1024
		}
		if err := chromedp.EmulateViewport(int64(width), int64(height)).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		// AllowAndName writes each download under its GUID and keeps the
		// suggested filename on the event stream.
		err := cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("set download behavior: %w", err)
		}
		return nil
	})
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	select {
	case m.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (m *Manager) release() {
	if m.limiter == nil {
		return
	}
	select {
	case <-m.limiter:
	default:
	}
}
