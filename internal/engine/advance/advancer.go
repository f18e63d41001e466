// Package advance drives the per-step form state machine: fill, validate,
// and, only when the form is clean, click the best advance control and
// verify navigation.
package advance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/autofill"
	"github.com/dealbridge/dealroom-capture/internal/engine/classify"
	"github.com/dealbridge/dealroom-capture/internal/engine/consent"
	"github.com/dealbridge/dealroom-capture/internal/engine/fallback"
)

// advanceTexts are the submit/continue button patterns, best match first.
var advanceTexts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(submit|register|sign\s+up|create\s+account)\s*$`),
	regexp.MustCompile(`(?i)\b(get|request|view)\s+(access|documents?|files?)\b`),
	regexp.MustCompile(`(?i)^\s*(continue|next|proceed)\b`),
	regexp.MustCompile(`(?i)\b(submit|continue|next)\b`),
}

// Config tunes the advancer.
type Config struct {
	// SettleWait is how long to wait after an advance click before
	// checking the URL, bounding in-place content updates.
	SettleWait time.Duration
}

// Options carries the per-job flags threaded through each iteration.
type Options struct {
	Fill    autofill.Options
	Consent consent.Options
	// SubmitOverride is a platform-supplied submit selector tried before
	// any heuristic.
	SubmitOverride engine.ControlRef
	// MaxSteps caps the multi-page form loop.
	MaxSteps int
	// Reached reports that the target page (the document grid) is
	// showing, ending the loop.
	Reached func(ctx context.Context, page engine.Page) bool
}

// StepOutcome reports what one iteration changed.
type StepOutcome struct {
	FieldsFilled int
	Consent      consent.Result
	Clicked      bool
	// URLChanged distinguishes a navigation from an in-place update. A
	// click with no URL change is reported, not treated as failure.
	URLChanged bool
	Method     engine.Method
}

// RunResult summarizes the whole loop.
type RunResult struct {
	Steps        []StepOutcome
	ReachedGoal  bool
	FieldsFilled int
}

// Advancer owns the fill/validate/advance state machine.
type Advancer struct {
	filler     *autofill.Filler
	consent    *consent.Detector
	escalator  *fallback.Escalator
	classifier *classify.Classifier
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Advancer.
func New(filler *autofill.Filler, detector *consent.Detector, escalator *fallback.Escalator, classifier *classify.Classifier, cfg Config, logger *zap.Logger) *Advancer {
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advancer{
		filler:     filler,
		consent:    detector,
		escalator:  escalator,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// RunSteps drives consent + fill + advance until the goal predicate fires,
// the step cap is hit, or a terminal condition surfaces. ErrValidationBlocked
// halts the loop; ErrAdvanceNotFound ends it without failing the job.
func (a *Advancer) RunSteps(ctx context.Context, page engine.Page, bucket engine.DataBucket, run *engine.FallbackRunContext, opts Options) (RunResult, error) {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 5
	}
	var res RunResult
	for i := 0; i < opts.MaxSteps; i++ {
		if opts.Reached != nil && opts.Reached(ctx, page) {
			res.ReachedGoal = true
			return res, nil
		}

		outcome, err := a.Step(ctx, page, bucket, run, opts)
		res.Steps = append(res.Steps, outcome)
		res.FieldsFilled += outcome.FieldsFilled
		if err != nil {
			if errorsIsAdvanceNotFound(err) && opts.Reached == nil {
				// No goal predicate and nothing left to click:
				// the flow is done.
				return res, nil
			}
			return res, err
		}

		if !outcome.Clicked && outcome.FieldsFilled == 0 && !outcome.Consent.Changed() {
			// Stable page with nothing to do; looping further
			// cannot make progress.
			return res, nil
		}
	}
	if opts.Reached != nil && opts.Reached(ctx, page) {
		res.ReachedGoal = true
	}
	return res, nil
}

// Step executes one FILL -> VALIDATE -> ADVANCE -> WAIT_SETTLE round.
func (a *Advancer) Step(ctx context.Context, page engine.Page, bucket engine.DataBucket, run *engine.FallbackRunContext, opts Options) (StepOutcome, error) {
	var out StepOutcome

	consentRes, err := a.consent.Apply(ctx, page, opts.Consent)
	if err != nil {
		return out, fmt.Errorf("consent pass: %w", err)
	}
	out.Consent = consentRes

	filled, err := a.filler.Fill(ctx, page, bucket, opts.Fill)
	if err != nil {
		return out, fmt.Errorf("autofill: %w", err)
	}
	if filled == 0 {
		// Zero changes signals the narrower type-based retry.
		filled, err = a.filler.FillByType(ctx, page, bucket, opts.Fill)
		if err != nil {
			return out, fmt.Errorf("typed autofill: %w", err)
		}
	}
	out.FieldsFilled = filled

	// VALIDATE: blur everything so client-side validation runs, then scan
	// for error signals across every frame.
	errCount, err := a.validate(ctx, page)
	if err != nil {
		return out, fmt.Errorf("validation scan: %w", err)
	}
	if errCount > 0 {
		return out, fmt.Errorf("%w: %d validation errors", engine.ErrValidationBlocked, errCount)
	}

	result, urlChanged, err := a.advance(ctx, page, run, opts.SubmitOverride)
	if err != nil {
		return out, err
	}
	out.Clicked = true
	out.URLChanged = urlChanged
	out.Method = result.Method
	if !urlChanged {
		a.logger.Info("advance click produced no navigation; continuing",
			zap.String("host", page.Host()))
	}
	return out, nil
}

// validate dispatches blur on every control and counts validation errors
// in every frame. An unscannable frame contributes zero errors.
func (a *Advancer) validate(ctx context.Context, page engine.Page) (int, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, frame := range frames {
		if err := frame.BlurAll(ctx); err != nil {
			a.logger.Debug("blur pass failed", zap.Error(err))
		}
		n, err := frame.ValidationErrors(ctx)
		if err != nil {
			a.logger.Debug("validation scan failed", zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// advance clicks the best submit control through the escalation wrapper
// and verifies whether the URL changed.
func (a *Advancer) advance(ctx context.Context, page engine.Page, run *engine.FallbackRunContext, override engine.ControlRef) (engine.StepResult, bool, error) {
	before, err := page.URL(ctx)
	if err != nil {
		return engine.StepResult{}, false, fmt.Errorf("read url: %w", err)
	}

	action := fallback.Action{
		Kind:        fallback.ActionSubmit,
		Instruction: "Click the button that submits this form or advances to the next page (labels like Submit, Continue, Next, I Agree, Get Access).",
		Strategies:  a.submitStrategies(ctx, page, override),
	}
	result, err := a.escalator.Do(ctx, page, run, action)
	if err != nil {
		return result, false, err
	}

	a.settle(ctx)

	after, err := page.URL(ctx)
	if err != nil {
		return result, false, fmt.Errorf("read url after advance: %w", err)
	}
	return result, after != before, nil
}

func (a *Advancer) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(a.cfg.SettleWait):
	}
}

// submitStrategies builds the deterministic ladder for the advance click:
// platform selector, native submit controls, then text-pattern buttons.
func (a *Advancer) submitStrategies(ctx context.Context, page engine.Page, override engine.ControlRef) []fallback.Strategy {
	var strategies []fallback.Strategy
	if override != "" {
		strategies = append(strategies, fallback.Strategy{
			Name: "platform-selector",
			Run: func(ctx context.Context) error {
				return clickRef(ctx, page, override)
			},
		})
	}
	strategies = append(strategies,
		fallback.Strategy{
			Name: "native-submit",
			Run: func(ctx context.Context) error {
				return clickFirst(ctx, page, func(c engine.Control) bool {
					return c.Tag == "input" && c.Type == "submit" && c.Visible && c.Enabled
				})
			},
		},
		fallback.Strategy{
			Name: "text-pattern",
			Run: func(ctx context.Context) error {
				return a.clickByText(ctx, page)
			},
		},
	)
	return strategies
}

// clickByText walks the advance text patterns in priority order and clicks
// the first visible matching button.
func (a *Advancer) clickByText(ctx context.Context, page engine.Page) error {
	frames, err := page.Frames(ctx)
	if err != nil {
		return err
	}
	for _, re := range advanceTexts {
		for _, frame := range frames {
			controls, err := frame.Controls(ctx)
			if err != nil {
				continue
			}
			for _, c := range controls {
				if !isClickable(c) {
					continue
				}
				text := controlText(c)
				if text == "" || !re.MatchString(text) {
					continue
				}
				return frame.Click(ctx, c.Ref)
			}
		}
	}
	return engine.ErrAdvanceNotFound
}

// clickRef clicks a caller-supplied selector, trying each frame in turn.
// A ref the frame cannot resolve is skipped, not fatal.
func clickRef(ctx context.Context, page engine.Page, ref engine.ControlRef) error {
	frames, err := page.Frames(ctx)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := frame.Click(ctx, ref); err == nil {
			return nil
		}
	}
	return engine.ErrAdvanceNotFound
}

func clickFirst(ctx context.Context, page engine.Page, match func(engine.Control) bool) error {
	frames, err := page.Frames(ctx)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		controls, err := frame.Controls(ctx)
		if err != nil {
			continue
		}
		for _, c := range controls {
			if match(c) {
				return frame.Click(ctx, c.Ref)
			}
		}
	}
	return engine.ErrAdvanceNotFound
}

func isClickable(c engine.Control) bool {
	if !c.Visible || !c.Enabled {
		return false
	}
	switch {
	case c.Tag == "button", c.Role == "button":
		return true
	case c.Tag == "input" && (c.Type == "submit" || c.Type == "button"):
		return true
	case c.Tag == "a":
		return true
	default:
		return false
	}
}

func controlText(c engine.Control) string {
	if t := strings.TrimSpace(c.Text); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.Value); t != "" {
		return t
	}
	return strings.TrimSpace(c.AriaLabel)
}
