// Package autofill populates visible, empty, non-sensitive form controls
// across every frame of a page from a canonical data bucket.
package autofill

import (
	"context"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/classify"
)

// Options control one fill pass.
type Options struct {
	// RequiredOnly restricts filling to controls marked required.
	RequiredOnly bool
	// SkipSensitive refuses to write any control classified as a
	// sensitive key, even when the bucket has a value for it.
	SkipSensitive bool
	// Overrides are platform-supplied selectors tried before any
	// heuristic matching, keyed by canonical field.
	Overrides map[engine.CanonicalKey]engine.ControlRef
}

// Filler drives the autofill pass.
type Filler struct {
	classifier *classify.Classifier
	logger     *zap.Logger
}

// New constructs a Filler.
func New(classifier *classify.Classifier, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{classifier: classifier, logger: logger}
}

// Fill populates matching controls in every frame and returns the number of
// fields changed. A zero return signals the caller to retry with the
// narrower type-based pass (FillByType). Per-element probe failures count
// as no match and never abort the scan.
func (f *Filler) Fill(ctx context.Context, page engine.Page, bucket engine.DataBucket, opts Options) (int, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, frame := range frames {
		n, err := f.fillFrame(ctx, frame, bucket, opts)
		if err != nil {
			// A frame that cannot even be scanned (detached, cross
			// origin restriction) is skipped, not fatal.
			f.logger.Debug("frame scan failed during autofill", zap.Error(err))
			continue
		}
		filled += n
	}
	return filled, nil
}

func (f *Filler) fillFrame(ctx context.Context, frame engine.Frame, bucket engine.DataBucket, opts Options) (int, error) {
	// Platform overrides first: explicit selectors beat heuristics.
	filled := f.applyOverrides(ctx, frame, bucket, opts)

	controls, err := frame.Controls(ctx)
	if err != nil {
		return filled, err
	}

	for _, c := range controls {
		if !c.IsFillable() {
			continue
		}
		if c.Value != "" {
			// Never overwrite user- or pre-filled data.
			continue
		}
		if opts.RequiredOnly && !c.Required {
			continue
		}

		key := f.resolveKey(c)
		if key == engine.KeyUnknown {
			continue
		}
		if opts.SkipSensitive && key.IsSensitive() {
			f.logger.Debug("skipping sensitive field",
				zap.String("key", key.String()),
				zap.String("ref", string(c.Ref)))
			continue
		}
		value, ok := bucket.Value(key)
		if !ok {
			continue
		}

		if f.setWithVariants(ctx, frame, c.Ref, key, value) {
			filled++
		}
	}
	return filled, nil
}

// resolveKey checks the explicit autocomplete attribute before free-text
// classification.
func (f *Filler) resolveKey(c engine.Control) engine.CanonicalKey {
	if key := f.classifier.ClassifyAutocomplete(c.Autocomplete); key != engine.KeyUnknown {
		return key
	}
	return f.classifier.Classify(engine.DescribeControl(c))
}

func (f *Filler) applyOverrides(ctx context.Context, frame engine.Frame, bucket engine.DataBucket, opts Options) int {
	filled := 0
	for key, ref := range opts.Overrides {
		if opts.SkipSensitive && key.IsSensitive() {
			continue
		}
		value, ok := bucket.Value(key)
		if !ok {
			continue
		}
		current, err := frame.Value(ctx, ref)
		if err != nil || current != "" {
			continue
		}
		if f.setWithVariants(ctx, frame, ref, key, value) {
			filled++
		}
	}
	return filled
}

// setWithVariants writes the value, walking the format-variant ladder for
// phone and numeric fields since masked inputs reject out-of-format text.
// It verifies each attempt by reading the value back.
func (f *Filler) setWithVariants(ctx context.Context, frame engine.Frame, ref engine.ControlRef, key engine.CanonicalKey, value string) bool {
	for _, variant := range formatVariants(key, value) {
		if err := frame.SetValue(ctx, ref, variant); err != nil {
			f.logger.Debug("set value failed",
				zap.String("ref", string(ref)), zap.Error(err))
			continue
		}
		got, err := frame.Value(ctx, ref)
		if err == nil && got != "" {
			return true
		}
	}
	return false
}
