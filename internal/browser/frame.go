package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// ErrControlGone means the addressed element (or its frame) no longer
// exists. Callers re-scan rather than retry the same ref.
var ErrControlGone = errors.New("control no longer present")

// Frame addresses one document of a page: the main document when path is
// empty, otherwise the document reached by walking the iframe selector
// chain. All operations run as atomic scripts against the live document.
type Frame struct {
	page *Page
	path []string
}

var _ engine.Frame = (*Frame)(nil)

// controlSnapshot mirrors the JSON emitted by the scan script.
type controlSnapshot struct {
	Ref          string `json:"ref"`
	Tag          string `json:"tag"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	Name         string `json:"name"`
	DOMID        string `json:"dom_id"`
	Placeholder  string `json:"placeholder"`
	AriaLabel    string `json:"aria_label"`
	Autocomplete string `json:"autocomplete"`
	Label        string `json:"label"`
	Surround     string `json:"surround"`
	Value        string `json:"value"`
	Text         string `json:"text"`
	Visible      bool   `json:"visible"`
	Enabled      bool   `json:"enabled"`
	Checked      bool   `json:"checked"`
	Required     bool   `json:"required"`
	RadioGroup   string `json:"radio_group"`
}

func (s controlSnapshot) toControl() engine.Control {
	return engine.Control{
		Ref:          engine.ControlRef(s.Ref),
		Tag:          s.Tag,
		Type:         s.Type,
		Role:         s.Role,
		Name:         s.Name,
		DOMID:        s.DOMID,
		Placeholder:  s.Placeholder,
		AriaLabel:    s.AriaLabel,
		Autocomplete: s.Autocomplete,
		Label:        s.Label,
		Surround:     s.Surround,
		Value:        s.Value,
		Text:         s.Text,
		Visible:      s.Visible,
		Enabled:      s.Enabled,
		Checked:      s.Checked,
		Required:     s.Required,
		RadioGroup:   s.RadioGroup,
	}
}

// Controls scans the frame's document for form controls, buttons, and
// links. Elements are tagged in the DOM so the returned refs stay valid
// until the document is replaced.
func (f *Frame) Controls(ctx context.Context) ([]engine.Control, error) {
	script := fmt.Sprintf(controlScanScript, jsonEncode(f.path))
	var snapshots []controlSnapshot
	if err := f.page.run(ctx, evaluate(script, &snapshots)); err != nil {
		return nil, fmt.Errorf("scan controls: %w", err)
	}
	controls := make([]engine.Control, 0, len(snapshots))
	for _, s := range snapshots {
		controls = append(controls, s.toControl())
	}
	return controls, nil
}

// SetValue writes through the native value setter and dispatches input,
// change, and blur.
func (f *Frame) SetValue(ctx context.Context, ref engine.ControlRef, value string) error {
	script := fmt.Sprintf(setValueScript, jsonEncode(f.path), jsonEncode(string(ref)), jsonEncode(value))
	return f.runStatus(ctx, "set value", script)
}

// Value reads the control's current value.
func (f *Frame) Value(ctx context.Context, ref engine.ControlRef) (string, error) {
	script := fmt.Sprintf(readValueScript, jsonEncode(f.path), jsonEncode(string(ref)))
	var value *string
	if err := f.page.run(ctx, evaluate(script, &value)); err != nil {
		return "", fmt.Errorf("read value: %w", err)
	}
	if value == nil {
		return "", fmt.Errorf("read value %s: %w", ref, ErrControlGone)
	}
	return *value, nil
}

// SetChecked checks a checkbox or selects a radio member via a click, a
// no-op when already checked.
func (f *Frame) SetChecked(ctx context.Context, ref engine.ControlRef) error {
	script := fmt.Sprintf(setCheckedScript, jsonEncode(f.path), jsonEncode(string(ref)))
	return f.runStatus(ctx, "set checked", script)
}

// Click scrolls the element into view and clicks it.
func (f *Frame) Click(ctx context.Context, ref engine.ControlRef) error {
	script := fmt.Sprintf(clickScript, jsonEncode(f.path), jsonEncode(string(ref)))
	return f.runStatus(ctx, "click", script)
}

// BlurAll dispatches input/change/blur on every control and clicks
// neutral page space.
func (f *Frame) BlurAll(ctx context.Context) error {
	script := fmt.Sprintf(blurAllScript, jsonEncode(f.path))
	var ok bool
	if err := f.page.run(ctx, evaluate(script, &ok)); err != nil {
		return fmt.Errorf("blur controls: %w", err)
	}
	if !ok {
		return fmt.Errorf("blur controls: %w", ErrControlGone)
	}
	return nil
}

// ValidationErrors counts visible validation failures in the frame.
func (f *Frame) ValidationErrors(ctx context.Context) (int, error) {
	script := fmt.Sprintf(validationErrorsScript, jsonEncode(f.path))
	var count int
	if err := f.page.run(ctx, evaluate(script, &count)); err != nil {
		return 0, fmt.Errorf("count validation errors: %w", err)
	}
	return count, nil
}

// runStatus executes a script that returns "" on success or a short
// reason string on failure.
func (f *Frame) runStatus(ctx context.Context, op, script string) error {
	var status string
	if err := f.page.run(ctx, evaluate(script, &status)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status != "" {
		return fmt.Errorf("%s: %s: %w", op, status, ErrControlGone)
	}
	return nil
}
