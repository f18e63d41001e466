// Package consent scans pages for agreement gates (checkboxes, radio
// groups, and buttons) and activates them so form flows can advance.
package consent

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Options control one consent pass.
type Options struct {
	// OptInAggressive also checks marketing/newsletter opt-ins, which
	// are otherwise excluded.
	OptInAggressive bool
	// ExtraPatterns are host-specific patterns evaluated alongside the
	// defaults (higher priority entries win as usual).
	ExtraPatterns []Pattern
}

// Result summarizes what one pass changed.
type Result struct {
	BoxesChecked   int
	RadiosSelected int
	ButtonClicked  bool
	ButtonText     string
}

// Changed reports whether the pass mutated the page at all.
func (r Result) Changed() bool {
	return r.BoxesChecked > 0 || r.RadiosSelected > 0 || r.ButtonClicked
}

// Detector finds and activates consent gates. Applying it twice to a
// stable page is a no-op the second time.
type Detector struct {
	logger *zap.Logger
}

// New constructs a Detector.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Apply scans every frame and activates matching consent elements:
// checkboxes first, then radio groups, then at most one agreement button.
// Per-element failures are logged and skipped.
func (d *Detector) Apply(ctx context.Context, page engine.Page, opts Options) (Result, error) {
	patterns := merged(opts.ExtraPatterns)

	frames, err := page.Frames(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, frame := range frames {
		controls, err := frame.Controls(ctx)
		if err != nil {
			d.logger.Debug("frame scan failed during consent pass", zap.Error(err))
			continue
		}

		res.BoxesChecked += d.applyCheckboxes(ctx, frame, controls, patterns, opts)
		res.RadiosSelected += d.applyRadioGroups(ctx, frame, controls, patterns)
	}

	// Button handling runs after all checkbox/radio work so client-side
	// enablement (buttons gated on the checkbox) has settled.
	if clicked, text := d.clickAgreementButton(ctx, page, patterns); clicked {
		res.ButtonClicked = true
		res.ButtonText = text
	}
	return res, nil
}

func (d *Detector) applyCheckboxes(ctx context.Context, frame engine.Frame, controls []engine.Control, patterns []Pattern, opts Options) int {
	checked := 0
	for _, c := range controls {
		if !isCheckbox(c) || !c.Visible || !c.Enabled {
			continue
		}
		if c.Checked {
			// Idempotent: never re-check.
			continue
		}
		text := descriptorText(c)
		if text == "" {
			continue
		}
		if marketingOptIn.MatchString(text) {
			// Marketing opt-ins apply on their own in aggressive mode;
			// they rarely carry agreement wording.
			if !opts.OptInAggressive {
				continue
			}
		} else if !matchesAny(patterns, TargetCheckbox, text) {
			continue
		}
		if err := frame.SetChecked(ctx, c.Ref); err != nil {
			d.logger.Debug("consent checkbox failed",
				zap.String("ref", string(c.Ref)), zap.Error(err))
			continue
		}
		checked++
	}
	return checked
}

// applyRadioGroups evaluates each radio group as a unit: if any member's
// text matches a consent pattern the group is a consent gate, and the
// member whose text matches the positive sub-pattern is selected (first
// member when none does).
func (d *Detector) applyRadioGroups(ctx context.Context, frame engine.Frame, controls []engine.Control, patterns []Pattern) int {
	groups := make(map[string][]engine.Control)
	var order []string
	for _, c := range controls {
		if c.Tag != "input" || c.Type != "radio" || !c.Visible || !c.Enabled {
			continue
		}
		name := c.RadioGroup
		if name == "" {
			name = string(c.Ref)
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], c)
	}

	selected := 0
	for _, name := range order {
		members := groups[name]
		if groupAlreadySelected(members) {
			continue
		}
		if !groupIsConsentGate(members, patterns) {
			continue
		}
		pick := members[0]
		for _, m := range members {
			text := descriptorText(m)
			if positiveChoice.MatchString(text) && !negativeChoice.MatchString(text) {
				pick = m
				break
			}
		}
		if err := frame.SetChecked(ctx, pick.Ref); err != nil {
			d.logger.Debug("consent radio failed",
				zap.String("group", name), zap.Error(err))
			continue
		}
		selected++
	}
	return selected
}

// clickAgreementButton tries the prioritized agreement-button patterns and
// clicks the first visible match across all frames.
func (d *Detector) clickAgreementButton(ctx context.Context, page engine.Page, patterns []Pattern) (bool, string) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return false, ""
	}
	for _, p := range patterns {
		if p.Target != TargetButton {
			continue
		}
		for _, frame := range frames {
			controls, err := frame.Controls(ctx)
			if err != nil {
				continue
			}
			for _, c := range controls {
				if !isButton(c) || !c.Visible || !c.Enabled {
					continue
				}
				text := buttonText(c)
				if text == "" || !p.Regex.MatchString(text) {
					continue
				}
				if err := frame.Click(ctx, c.Ref); err != nil {
					d.logger.Debug("agreement button click failed",
						zap.String("text", text), zap.Error(err))
					continue
				}
				return true, text
			}
		}
	}
	return false, ""
}

func groupIsConsentGate(members []engine.Control, patterns []Pattern) bool {
	for _, m := range members {
		if matchesAny(patterns, TargetRadio, descriptorText(m)) {
			return true
		}
	}
	return false
}

func groupAlreadySelected(members []engine.Control) bool {
	for _, m := range members {
		if m.Checked {
			return true
		}
	}
	return false
}

func matchesAny(patterns []Pattern, target TargetType, text string) bool {
	for _, p := range patterns {
		if p.Target != target {
			continue
		}
		if p.Regex.MatchString(text) {
			return true
		}
	}
	return false
}

// merged combines extra patterns with the defaults, ordered by priority
// descending so the first regex hit is also the highest-priority one.
func merged(extra []Pattern) []Pattern {
	all := append(append([]Pattern(nil), extra...), defaultPatterns()...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority > all[j].Priority
	})
	return all
}

// descriptorText aggregates the signals consent matching inspects: label
// association, ARIA attributes, and nearby text.
func descriptorText(c engine.Control) string {
	parts := []string{c.Label, c.AriaLabel, c.Name, c.DOMID, c.Surround, c.Text}
	return strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))
}

func buttonText(c engine.Control) string {
	if t := strings.TrimSpace(c.Text); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.AriaLabel); t != "" {
		return t
	}
	return strings.TrimSpace(c.Value)
}

func isCheckbox(c engine.Control) bool {
	if c.Tag == "input" && c.Type == "checkbox" {
		return true
	}
	return c.Role == "checkbox"
}

func isButton(c engine.Control) bool {
	switch {
	case c.Tag == "button":
		return true
	case c.Tag == "input" && (c.Type == "submit" || c.Type == "button"):
		return true
	case c.Role == "button":
		return true
	default:
		return false
	}
}
