package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/enginetest"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)

	adapter, err := New(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", adapter.cfg.Model)
	assert.Equal(t, 2048, adapter.cfg.MaxTokens)
	assert.Equal(t, 6, adapter.cfg.MaxToolRounds)
}

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := New(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)
	return adapter
}

func TestExecuteFillControl(t *testing.T) {
	t.Parallel()

	frame := enginetest.NewFrame(engine.Control{
		Ref: "email", Tag: "input", Type: "email", Visible: true, Enabled: true,
	})
	page := enginetest.NewPage("https://deals.example.com/form", "deals.example.com", frame)
	adapter := testAdapter(t)

	outcome, done, err := adapter.execute(context.Background(), page, "fill_control",
		[]byte(`{"frame":0,"ref":"email","value":"ops@acmecap.com"}`))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "filled", outcome)

	value, err := frame.Value(context.Background(), "email")
	require.NoError(t, err)
	assert.Equal(t, "ops@acmecap.com", value)
}

func TestExecuteClickControl(t *testing.T) {
	t.Parallel()

	frame := enginetest.NewFrame(engine.Control{
		Ref: "go", Tag: "button", Text: "Request Access", Visible: true, Enabled: true,
	})
	page := enginetest.NewPage("https://deals.example.com/form", "deals.example.com", frame)
	adapter := testAdapter(t)

	_, done, err := adapter.execute(context.Background(), page, "click_control",
		[]byte(`{"frame":0,"ref":"go"}`))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []engine.ControlRef{"go"}, frame.Clicks)
}

func TestExecuteFrameOutOfRange(t *testing.T) {
	t.Parallel()

	page := enginetest.NewPage("https://deals.example.com", "deals.example.com", enginetest.NewFrame())
	adapter := testAdapter(t)

	_, _, err := adapter.execute(context.Background(), page, "click_control",
		[]byte(`{"frame":3,"ref":"go"}`))
	assert.ErrorContains(t, err, "out of range")
}

func TestExecuteFinishVerdicts(t *testing.T) {
	t.Parallel()

	page := enginetest.NewPage("https://deals.example.com", "deals.example.com", enginetest.NewFrame())
	adapter := testAdapter(t)

	_, done, err := adapter.execute(context.Background(), page, "finish", []byte(`{"outcome":"done"}`))
	assert.True(t, done)
	assert.NoError(t, err)

	_, done, err = adapter.execute(context.Background(), page, "finish",
		[]byte(`{"outcome":"failed","reason":"control is covered by an overlay"}`))
	assert.True(t, done)
	assert.ErrorContains(t, err, "overlay")
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	page := enginetest.NewPage("https://deals.example.com", "deals.example.com", enginetest.NewFrame())
	adapter := testAdapter(t)

	_, _, err := adapter.execute(context.Background(), page, "navigate", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown tool")
}

func TestInventorySkipsInvisibleControls(t *testing.T) {
	t.Parallel()

	frame := enginetest.NewFrame(
		engine.Control{Ref: "shown", Tag: "input", Type: "text", Label: "Company", Visible: true, Enabled: true},
		engine.Control{Ref: "hidden", Tag: "input", Type: "hidden"},
	)
	page := enginetest.NewPage("https://deals.example.com", "deals.example.com", frame)

	listings, err := inventory(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "shown", listings[0].Ref)
	assert.Equal(t, 0, listings[0].Frame)
	assert.Equal(t, "Company", listings[0].Label)
}
