// Package enginetest provides in-memory Page and Frame fakes for exercising
// the capture engine without a browser.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// FakeFrame is an in-memory engine.Frame. Mutations are recorded so tests
// can assert on exactly what the engine did.
type FakeFrame struct {
	mu sync.Mutex

	ControlList []engine.Control

	// RejectValue, when set for a ref, simulates a masked input: values
	// it returns false for are discarded (the control stays empty).
	RejectValue map[engine.ControlRef]func(string) bool

	// ScanErr makes Controls fail, simulating a detached frame.
	ScanErr error

	// ValidationErrCount is returned by ValidationErrors.
	ValidationErrCount int

	// OnClick, when set, observes click dispatch (e.g. to flip page URL).
	OnClick func(ref engine.ControlRef)

	values  map[engine.ControlRef]string
	checked map[engine.ControlRef]bool
	Clicks  []engine.ControlRef
	Blurs   int
}

// NewFrame builds a FakeFrame over the given controls.
func NewFrame(controls ...engine.Control) *FakeFrame {
	f := &FakeFrame{
		ControlList: controls,
		values:      make(map[engine.ControlRef]string),
		checked:     make(map[engine.ControlRef]bool),
	}
	for _, c := range controls {
		if c.Value != "" {
			f.values[c.Ref] = c.Value
		}
		if c.Checked {
			f.checked[c.Ref] = true
		}
	}
	return f
}

// AddControl appends a control mid-test, simulating a page mutation.
func (f *FakeFrame) AddControl(c engine.Control) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ControlList = append(f.ControlList, c)
	if c.Value != "" {
		f.values[c.Ref] = c.Value
	}
	if c.Checked {
		f.checked[c.Ref] = true
	}
}

// Controls returns the control snapshots with live values and check state.
func (f *FakeFrame) Controls(_ context.Context) ([]engine.Control, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanErr != nil {
		return nil, f.ScanErr
	}
	out := make([]engine.Control, len(f.ControlList))
	for i, c := range f.ControlList {
		c.Value = f.values[c.Ref]
		c.Checked = f.checked[c.Ref]
		out[i] = c
	}
	return out, nil
}

// SetValue stores the value unless the ref's reject hook discards it.
func (f *FakeFrame) SetValue(_ context.Context, ref engine.ControlRef, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRef(ref) {
		return fmt.Errorf("no control %q", ref)
	}
	if reject, ok := f.RejectValue[ref]; ok && !reject(value) {
		f.values[ref] = ""
		return nil
	}
	f.values[ref] = value
	return nil
}

// Value reads the stored value.
func (f *FakeFrame) Value(_ context.Context, ref engine.ControlRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRef(ref) {
		return "", fmt.Errorf("no control %q", ref)
	}
	return f.values[ref], nil
}

// SetChecked marks the element checked.
func (f *FakeFrame) SetChecked(_ context.Context, ref engine.ControlRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRef(ref) {
		return fmt.Errorf("no control %q", ref)
	}
	f.checked[ref] = true
	return nil
}

// Checked reports the element's check state.
func (f *FakeFrame) Checked(ref engine.ControlRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked[ref]
}

// Click records the click and invokes the observer hook.
func (f *FakeFrame) Click(_ context.Context, ref engine.ControlRef) error {
	f.mu.Lock()
	if !f.hasRef(ref) {
		f.mu.Unlock()
		return fmt.Errorf("no control %q", ref)
	}
	f.Clicks = append(f.Clicks, ref)
	hook := f.OnClick
	f.mu.Unlock()
	if hook != nil {
		hook(ref)
	}
	return nil
}

// BlurAll counts blur sweeps.
func (f *FakeFrame) BlurAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Blurs++
	return nil
}

// ValidationErrors returns the configured count.
func (f *FakeFrame) ValidationErrors(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ValidationErrCount, nil
}

func (f *FakeFrame) hasRef(ref engine.ControlRef) bool {
	for _, c := range f.ControlList {
		if c.Ref == ref {
			return true
		}
	}
	return false
}

// FakePage is an in-memory engine.Page over FakeFrames.
type FakePage struct {
	mu sync.Mutex

	FrameList []*FakeFrame
	PageURL   string
	PageHost  string
	Dir       string
	Events    chan engine.DownloadEvent
	HTMLBody  string
}

// NewPage builds a FakePage.
func NewPage(url, host string, frames ...*FakeFrame) *FakePage {
	return &FakePage{
		FrameList: frames,
		PageURL:   url,
		PageHost:  host,
		Events:    make(chan engine.DownloadEvent, 8),
	}
}

// Frames returns the frames, main first.
func (p *FakePage) Frames(_ context.Context) ([]engine.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.Frame, len(p.FrameList))
	for i, f := range p.FrameList {
		out[i] = f
	}
	return out, nil
}

// URL returns the current page location.
func (p *FakePage) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageURL, nil
}

// SetURL simulates a navigation.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PageURL = url
}

// Host returns the configured host.
func (p *FakePage) Host() string { return p.PageHost }

// Screenshot returns a stub image.
func (p *FakePage) Screenshot(_ context.Context) ([]byte, error) {
	return []byte("png-stub"), nil
}

// HTML returns the configured body.
func (p *FakePage) HTML(_ context.Context) (string, error) {
	return p.HTMLBody, nil
}

// DownloadEvents exposes the event channel.
func (p *FakePage) DownloadEvents() <-chan engine.DownloadEvent { return p.Events }

// DownloadDir returns the configured managed directory.
func (p *FakePage) DownloadDir() string { return p.Dir }
