package advance

import (
	"context"
	"errors"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/fallback"
)

func errorsIsAdvanceNotFound(err error) bool {
	return errors.Is(err, engine.ErrAdvanceNotFound)
}

// errNoFieldMatch is the deterministic-miss signal when a targeted fill
// strategy cannot locate its control.
var errNoFieldMatch = errors.New("no matching field control")

// FillField targets a single canonical field through the escalation ladder:
// platform selector override, label match, then placeholder/name match. A
// full deterministic miss hands the instruction to the escalator.
func (a *Advancer) FillField(ctx context.Context, page engine.Page, run *engine.FallbackRunContext, key engine.CanonicalKey, value string, override engine.ControlRef) (engine.StepResult, error) {
	action := fallback.Action{
		Kind:        fallback.ActionFill,
		Instruction: "Fill the form field for \"" + key.String() + "\" with the value \"" + value + "\".",
		Strategies:  a.fieldStrategies(page, key, value, override),
	}
	return a.escalator.Do(ctx, page, run, action)
}

func (a *Advancer) fieldStrategies(page engine.Page, key engine.CanonicalKey, value string, override engine.ControlRef) []fallback.Strategy {
	var strategies []fallback.Strategy
	if override != "" {
		strategies = append(strategies, fallback.Strategy{
			Name: "platform-selector",
			Run: func(ctx context.Context) error {
				return a.fillMatching(ctx, page, value, func(c engine.Control) bool {
					return c.Ref == override
				})
			},
		})
	}
	strategies = append(strategies,
		fallback.Strategy{
			Name: "labeled",
			Run: func(ctx context.Context) error {
				return a.fillMatching(ctx, page, value, func(c engine.Control) bool {
					d := engine.FieldDescriptor{Label: c.Label, AriaLabel: c.AriaLabel}
					return a.classifier.Classify(d) == key
				})
			},
		},
		fallback.Strategy{
			Name: "placeholder",
			Run: func(ctx context.Context) error {
				return a.fillMatching(ctx, page, value, func(c engine.Control) bool {
					d := engine.FieldDescriptor{Name: c.Name, ID: c.DOMID, Placeholder: c.Placeholder}
					return a.classifier.Classify(d) == key
				})
			},
		},
	)
	return strategies
}

// fillMatching writes value into the first fillable, still-empty control
// accepted by match and verifies the write stuck.
func (a *Advancer) fillMatching(ctx context.Context, page engine.Page, value string, match func(engine.Control) bool) error {
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
			if !c.IsFillable() || c.Value != "" || !match(c) {
				continue
			}
			if err := frame.SetValue(ctx, c.Ref, value); err != nil {
				return err
			}
			got, err := frame.Value(ctx, c.Ref)
			if err != nil {
				return err
			}
			if got == "" {
				return errNoFieldMatch
			}
			return nil
		}
	}
	return errNoFieldMatch
}
