package autofill

import (
	"context"

	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// typeKeys maps unambiguous input types to canonical keys. These inputs
// declare their own semantics, so no descriptor matching is needed.
var typeKeys = map[string]engine.CanonicalKey{
	"email":    engine.KeyEmail,
	"tel":      engine.KeyPhone,
	"password": engine.KeyPassword,
}

// FillByType is the narrower fallback pass used when the descriptor-based
// pass changed nothing: it matches inputs directly by their type attribute
// before giving up on the form.
func (f *Filler) FillByType(ctx context.Context, page engine.Page, bucket engine.DataBucket, opts Options) (int, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, frame := range frames {
		controls, err := frame.Controls(ctx)
		if err != nil {
			f.logger.Debug("frame scan failed during typed fill", zap.Error(err))
			continue
		}
		for _, c := range controls {
			if !c.IsFillable() || c.Value != "" {
				continue
			}
			if opts.RequiredOnly && !c.Required {
				continue
			}
			key, ok := typeKeys[c.Type]
			if !ok {
				continue
			}
			if opts.SkipSensitive && key.IsSensitive() {
				continue
			}
			value, varOK := bucket.Value(key)
			if !varOK {
				continue
			}
			if f.setWithVariants(ctx, frame, c.Ref, key, value) {
				filled++
			}
		}
	}
	return filled, nil
}
