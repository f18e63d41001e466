// Package probe performs a cheap HTTP pre-flight of a portal URL before
// a browser session is paid for. The static HTML is enough to tell a
// registration gate from a direct document listing on most portals.
package probe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StartMode tells the worker where the capture flow begins.
type StartMode string

const (
	// ModeRegistration means the portal opens on a form gate; the
	// advancer runs its fill/consent/advance loop first.
	ModeRegistration StartMode = "registration"
	// ModeDocuments means document links are already reachable; the
	// advancer only hunts for download triggers.
	ModeDocuments StartMode = "documents"
	// ModeUnknown means the static HTML was inconclusive (usually a JS
	// app shell); the browser session decides.
	ModeUnknown StartMode = "unknown"
)

// Config tunes the probe collector and heuristics.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	// MinHTMLBytes below which the page is treated as a JS app shell.
	MinHTMLBytes int
}

// Report summarizes what the static HTML revealed.
type Report struct {
	FinalURL         string
	StatusCode       int
	HTMLBytes        int
	HasPasswordField bool
	HasEmailField    bool
	ConsentMarkers   bool
	DocumentLinks    int
	Mode             StartMode
}

// Prober fetches and classifies portal landing pages.
type Prober struct {
	baseCollector *colly.Collector
	cfg           Config
	logger        *zap.Logger
}

// New constructs a configured prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MinHTMLBytes <= 0 {
		cfg.MinHTMLBytes = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{colly.Async(true)}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Prober{baseCollector: base, cfg: cfg, logger: logger}
}

type fetchResult struct {
	finalURL string
	status   int
	body     []byte
	err      error
}

// Probe fetches the portal URL and classifies the landing page.
func (p *Prober) Probe(ctx context.Context, portalURL string) (Report, error) {
	collector := p.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{
			finalURL: r.Request.URL.String(),
			status:   r.StatusCode,
			body:     append([]byte{}, r.Body...),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{status: status, err: err})
	})

	if err := collector.Visit(portalURL); err != nil {
		return Report{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if res.err != nil {
			return Report{StatusCode: res.status}, res.err
		}
		report := p.analyze(res.body)
		report.FinalURL = res.finalURL
		report.StatusCode = res.status
		p.logger.Debug("portal probed",
			zap.String("url", portalURL),
			zap.String("mode", string(report.Mode)),
			zap.Int("html_bytes", report.HTMLBytes),
			zap.Int("document_links", report.DocumentLinks),
		)
		return report, nil
	default:
		return Report{}, errors.New("probe produced no result")
	}
}

// consentKeywords are static-HTML markers of a consent gate.
var consentKeywords = []string{
	"confidentiality agreement",
	"non-disclosure",
	"terms and conditions",
	"i agree",
	"accept the terms",
}

// documentExtensions mark links that point straight at documents.
var documentExtensions = []string{".pdf", ".xlsx", ".xls", ".docx", ".pptx", ".zip"}

func (p *Prober) analyze(body []byte) Report {
	report := Report{HTMLBytes: len(body), Mode: ModeUnknown}
	if len(body) < p.cfg.MinHTMLBytes {
		return report
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return report
	}

	report.HasPasswordField = doc.Find(`input[type="password"]`).Length() > 0
	report.HasEmailField = doc.Find(`input[type="email"], input[name*="email" i]`).Length() > 0
	report.ConsentMarkers = containsKeyword(body, consentKeywords)

	doc.Find("a[href], a[download]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.ToLower(href)
		for _, ext := range documentExtensions {
			if strings.HasSuffix(href, ext) {
				report.DocumentLinks++
				return
			}
		}
		if _, ok := s.Attr("download"); ok {
			report.DocumentLinks++
		}
	})

	formGate := doc.Find("form").Length() > 0 &&
		(report.HasPasswordField || report.HasEmailField || report.ConsentMarkers)
	switch {
	case formGate:
		report.Mode = ModeRegistration
	case report.DocumentLinks > 0:
		report.Mode = ModeDocuments
	}
	return report
}

func containsKeyword(body []byte, keywords []string) bool {
	lower := bytes.ToLower(body)
	for _, kw := range keywords {
		if bytes.Contains(lower, []byte(kw)) {
			return true
		}
	}
	return false
}

// StatusRetryable reports whether a probe failure status is worth a
// browser attempt anyway. Portals frequently bot-block plain HTTP
// clients while serving real browsers fine.
func StatusRetryable(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests, 0:
		return true
	default:
		return status >= 500
	}
}
