// Package fallback wraps single interaction steps in the
// deterministic-first, assisted-second escalation protocol. It is the only
// engine path permitted to take a non-deterministic, cost-bearing action,
// and the only one gated by per-host policy and a hard step budget.
package fallback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// ActionKind tags what the wrapped step does, for logs and audit records.
type ActionKind string

// Step kinds.
const (
	ActionFill   ActionKind = "fill"
	ActionSubmit ActionKind = "submit"
)

// Strategy is one deterministic attempt at the step. Strategies are tried
// in order; the first nil error wins.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// Action describes one interaction step: its deterministic ladder and the
// natural-language instruction handed to the assisted adapter if the
// ladder is exhausted.
type Action struct {
	Kind        ActionKind
	Instruction string
	Strategies  []Strategy
}

// Snapshotter records page state around an assisted delegation for audit.
type Snapshotter interface {
	Snapshot(ctx context.Context, page engine.Page, label string) error
}

// Config controls the Escalator.
type Config struct {
	// Disabled is the global kill switch: when set, no host ever
	// escalates.
	Disabled bool
	// HostEnabled reports whether assisted fallback is configured for a
	// host. Nil means no host is enabled.
	HostEnabled func(host string) bool
	// AssistTimeout bounds one adapter invocation.
	AssistTimeout time.Duration
	// InstructionPrefix, when set, is prepended to every instruction
	// handed to the adapter. Operators use it for portal-wide guidance.
	InstructionPrefix string
}

// Escalator runs steps deterministically first and delegates to the
// assisted adapter only under policy and budget.
type Escalator struct {
	cfg     Config
	adapter engine.AssistAdapter
	snaps   Snapshotter
	logger  *zap.Logger
}

// New constructs an Escalator. The adapter may be nil when fallback is
// globally disabled.
func New(cfg Config, adapter engine.AssistAdapter, snaps Snapshotter, logger *zap.Logger) *Escalator {
	if cfg.AssistTimeout <= 0 {
		cfg.AssistTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalator{cfg: cfg, adapter: adapter, snaps: snaps, logger: logger}
}

// Do executes the action. On deterministic success it returns
// {MethodDeterministic} with no further side effects. Otherwise it
// escalates, or fails with ErrFallbackDisabled / ErrFallbackBudgetExceeded
// before the adapter is ever invoked.
func (e *Escalator) Do(ctx context.Context, page engine.Page, run *engine.FallbackRunContext, action Action) (engine.StepResult, error) {
	var detErr error
	for _, s := range action.Strategies {
		if err := s.Run(ctx); err != nil {
			detErr = err
			e.logger.Debug("deterministic strategy failed",
				zap.String("kind", string(action.Kind)),
				zap.String("strategy", s.Name),
				zap.Error(err))
			continue
		}
		return engine.StepResult{Method: engine.MethodDeterministic}, nil
	}

	host := page.Host()
	if e.cfg.Disabled || e.adapter == nil {
		return engine.StepResult{}, fmt.Errorf("%w (host %s): %v", engine.ErrFallbackDisabled, host, detErr)
	}
	if e.cfg.HostEnabled == nil || !e.cfg.HostEnabled(host) {
		return engine.StepResult{}, fmt.Errorf("%w: host %s not configured: %v", engine.ErrFallbackDisabled, host, detErr)
	}
	if err := run.Reserve(); err != nil {
		return engine.StepResult{}, err
	}

	e.snapshot(ctx, page, fmt.Sprintf("step-%02d-before", run.StepsUsed))

	instruction := action.Instruction
	if e.cfg.InstructionPrefix != "" {
		instruction = e.cfg.InstructionPrefix + "\n\n" + instruction
	}
	assistCtx, cancel := context.WithTimeout(ctx, e.cfg.AssistTimeout)
	err := e.adapter.Act(assistCtx, page, instruction)
	cancel()

	e.snapshot(ctx, page, fmt.Sprintf("step-%02d-after", run.StepsUsed))

	if err != nil {
		return engine.StepResult{Method: engine.MethodAssisted},
			fmt.Errorf("assisted %s failed: %w", action.Kind, err)
	}
	e.logger.Info("assisted step completed",
		zap.String("kind", string(action.Kind)),
		zap.String("host", host),
		zap.Int("steps_used", run.StepsUsed),
		zap.Int("max_steps", run.MaxSteps))
	return engine.StepResult{Method: engine.MethodAssisted}, nil
}

func (e *Escalator) snapshot(ctx context.Context, page engine.Page, label string) {
	if e.snaps == nil {
		return
	}
	if err := e.snaps.Snapshot(ctx, page, label); err != nil {
		e.logger.Warn("fallback snapshot failed", zap.String("label", label), zap.Error(err))
	}
}
