package engine

import (
	"context"
	"time"
)

// ControlRef is an opaque handle the automation layer uses to address one
// element inside a frame. For the chromedp implementation it is a CSS
// selector scoped to the frame's document; fakes in tests use plain keys.
type ControlRef string

// Control is the scanned snapshot of one form element. Snapshots go stale
// as soon as the page mutates; callers re-scan rather than hold on to them.
type Control struct {
	Ref          ControlRef
	Tag          string // input, select, textarea, button, a
	Type         string // the type attribute for inputs
	Role         string // ARIA role, if any
	Name         string
	DOMID        string
	Placeholder  string
	AriaLabel    string
	Autocomplete string
	Label        string // associated <label> text (for= or closest ancestor)
	Surround     string // bounded text of the containing element
	Value        string
	Text         string // visible text content, for buttons and links
	Visible      bool
	Enabled      bool
	Checked      bool
	Required     bool
	RadioGroup   string // the name attribute shared by a radio group
}

// IsFillable reports whether the control is a candidate for autofill.
// Buttons, file pickers, and hidden inputs are never filled.
func (c Control) IsFillable() bool {
	if !c.Visible || !c.Enabled {
		return false
	}
	switch c.Tag {
	case "input":
		switch c.Type {
		case "button", "submit", "reset", "file", "hidden", "image", "checkbox", "radio":
			return false
		}
		return true
	case "textarea", "select":
		return true
	default:
		return false
	}
}

// Frame exposes a single document (the main one or a nested frame) to the
// engine. All mutation goes through the frame so event dispatch stays
// consistent with how the value was set.
type Frame interface {
	// Controls scans the document for form controls, buttons, and links.
	// Probe failures on individual elements are swallowed; a malformed
	// control never aborts the scan.
	Controls(ctx context.Context) ([]Control, error)

	// SetValue assigns the control's value through the native value
	// setter (bypassing framework getter overrides) and dispatches
	// input, change, and blur events.
	SetValue(ctx context.Context, ref ControlRef, value string) error

	// Value reads the control's current value, so callers can verify a
	// masked input accepted what was written.
	Value(ctx context.Context, ref ControlRef) (string, error)

	// SetChecked checks a checkbox or selects a radio member. It is a
	// no-op when the element is already in the requested state.
	SetChecked(ctx context.Context, ref ControlRef) error

	// Click dispatches a click on the element.
	Click(ctx context.Context, ref ControlRef) error

	// BlurAll dispatches input/change/blur on every control and then
	// clicks neutral page space, so client-side validation runs.
	BlurAll(ctx context.Context) error

	// ValidationErrors counts visible validation failures: aria-invalid
	// elements, native constraint violations, and inline error
	// containers.
	ValidationErrors(ctx context.Context) (int, error)
}

// DownloadState mirrors the automation layer's download lifecycle.
type DownloadState string

// Download lifecycle states delivered on the event channel.
const (
	DownloadBegun     DownloadState = "begun"
	DownloadCompleted DownloadState = "completed"
	DownloadCanceled  DownloadState = "canceled"
)

// DownloadEvent is one automation-layer download notification.
type DownloadEvent struct {
	GUID          string
	SuggestedName string
	Path          string
	State         DownloadState
	ReceivedBytes int64
	At            time.Time
}

// Page is the live browser page handle the engine drives. One page per
// job; the engine never opens pages itself.
type Page interface {
	// Frames enumerates the main frame first, then nested frames.
	Frames(ctx context.Context) ([]Frame, error)

	// URL returns the current top-level location.
	URL(ctx context.Context) (string, error)

	// Host returns the normalized host of the page, used for per-host
	// configuration lookups.
	Host() string

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// HTML returns the serialized top document.
	HTML(ctx context.Context) (string, error)

	// DownloadEvents returns the channel on which armed download
	// notifications arrive. Arm before the triggering click.
	DownloadEvents() <-chan DownloadEvent

	// DownloadDir is the automation layer's managed download directory.
	DownloadDir() string
}
