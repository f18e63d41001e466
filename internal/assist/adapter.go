// Package assist delegates single stuck interactions to Claude. The
// adapter snapshots the live page, describes the one action to take, and
// executes the model's tool calls against the page until it reports done.
package assist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

const systemPrompt = `You operate a document portal page on behalf of an automated capture
pipeline. You will be given one specific action to perform, a screenshot,
and an inventory of the interactive controls on the page. Perform exactly
that one action using the tools, then call finish. Never navigate away
from the portal, never fill fields other than the one described, and never
accept terms the instruction does not mention. If the action cannot be
performed, call finish with outcome "failed" and say why.`

// Config holds the API client settings.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	// MaxToolRounds bounds the conversation; each round is one model
	// response worth of tool calls.
	MaxToolRounds int
}

// Adapter implements engine.AssistAdapter on the Anthropic Messages API.
type Adapter struct {
	client *anthropic.Client
	cfg    Config
	logger *zap.Logger
}

var _ engine.AssistAdapter = (*Adapter)(nil)

// New creates the adapter. The API key is required; everything else has
// workable defaults.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &Adapter{client: &client, cfg: cfg, logger: logger}, nil
}

// controlListing is one inventory row handed to the model.
type controlListing struct {
	Frame       int    `json:"frame"`
	Ref         string `json:"ref"`
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Text        string `json:"text,omitempty"`
	Value       string `json:"value,omitempty"`
	Checked     bool   `json:"checked,omitempty"`
}

type fillInput struct {
	Frame int    `json:"frame"`
	Ref   string `json:"ref"`
	Value string `json:"value"`
}

type clickInput struct {
	Frame int    `json:"frame"`
	Ref   string `json:"ref"`
}

type finishInput struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// Act performs the single instructed interaction on the page.
func (a *Adapter) Act(ctx context.Context, page engine.Page, instruction string) error {
	opening, err := a.openingMessage(ctx, page, instruction)
	if err != nil {
		return err
	}
	messages := []anthropic.MessageParam{opening}

	for round := 0; round < a.cfg.MaxToolRounds; round++ {
		message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.cfg.Model),
			MaxTokens: int64(a.cfg.MaxTokens),
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     pageTools(),
		})
		if err != nil {
			return fmt.Errorf("assist request: %w", err)
		}

		toolCalls := 0
		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			toolCalls++
			outcome, done, execErr := a.execute(ctx, page, toolUse.Name, []byte(toolUse.Input))
			if done {
				return execErr
			}
			isError := execErr != nil
			if isError {
				outcome = execErr.Error()
			}
			a.logger.Debug("assist tool call",
				zap.String("tool", toolUse.Name),
				zap.Bool("error", isError),
			)
			results = append(results, anthropic.NewToolResultBlock(toolUse.ID, outcome, isError))
		}

		if toolCalls == 0 {
			return fmt.Errorf("assist step ended without acting")
		}
		messages = append(messages, message.ToParam(), anthropic.NewUserMessage(results...))
	}
	return fmt.Errorf("assist step exceeded %d tool rounds", a.cfg.MaxToolRounds)
}

// openingMessage assembles the instruction, screenshot, and control
// inventory into the first user turn.
func (a *Adapter) openingMessage(ctx context.Context, page engine.Page, instruction string) (anthropic.MessageParam, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return anthropic.MessageParam{}, fmt.Errorf("read page url: %w", err)
	}
	listings, err := inventory(ctx, page)
	if err != nil {
		return anthropic.MessageParam{}, err
	}
	listingJSON, err := json.Marshal(listings)
	if err != nil {
		return anthropic.MessageParam{}, fmt.Errorf("encode control inventory: %w", err)
	}

	text := fmt.Sprintf("Action to perform: %s\n\nPage URL: %s\n\nControls:\n%s",
		instruction, url, listingJSON)
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)}

	if shot, shotErr := page.Screenshot(ctx); shotErr == nil && len(shot) > 0 {
		encoded := base64.StdEncoding.EncodeToString(shot)
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", encoded))
	} else if shotErr != nil {
		a.logger.Warn("screenshot unavailable for assist step", zap.Error(shotErr))
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// inventory scans every frame and flattens the controls into listings the
// model can reference by (frame, ref).
func inventory(ctx context.Context, page engine.Page) ([]controlListing, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate frames: %w", err)
	}
	var listings []controlListing
	for i, frame := range frames {
		controls, err := frame.Controls(ctx)
		if err != nil {
			continue
		}
		for _, c := range controls {
			if !c.Visible {
				continue
			}
			listings = append(listings, controlListing{
				Frame:       i,
				Ref:         string(c.Ref),
				Tag:         c.Tag,
				Type:        c.Type,
				Name:        c.Name,
				Label:       c.Label,
				Placeholder: c.Placeholder,
				Text:        c.Text,
				Value:       c.Value,
				Checked:     c.Checked,
			})
		}
	}
	return listings, nil
}

// execute runs one tool call against the live page. done reports that the
// model called finish; the returned error is then the step verdict.
func (a *Adapter) execute(ctx context.Context, page engine.Page, name string, input []byte) (string, bool, error) {
	switch name {
	case "fill_control":
		var in fillInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", false, fmt.Errorf("decode fill_control input: %w", err)
		}
		frame, err := frameAt(ctx, page, in.Frame)
		if err != nil {
			return "", false, err
		}
		if err := frame.SetValue(ctx, engine.ControlRef(in.Ref), in.Value); err != nil {
			return "", false, err
		}
		return "filled", false, nil
	case "click_control":
		var in clickInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", false, fmt.Errorf("decode click_control input: %w", err)
		}
		frame, err := frameAt(ctx, page, in.Frame)
		if err != nil {
			return "", false, err
		}
		if err := frame.Click(ctx, engine.ControlRef(in.Ref)); err != nil {
			return "", false, err
		}
		return "clicked", false, nil
	case "check_control":
		var in clickInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", false, fmt.Errorf("decode check_control input: %w", err)
		}
		frame, err := frameAt(ctx, page, in.Frame)
		if err != nil {
			return "", false, err
		}
		if err := frame.SetChecked(ctx, engine.ControlRef(in.Ref)); err != nil {
			return "", false, err
		}
		return "checked", false, nil
	case "finish":
		var in finishInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", true, fmt.Errorf("decode finish input: %w", err)
		}
		if in.Outcome == "done" {
			return "", true, nil
		}
		return "", true, fmt.Errorf("assist step failed: %s", in.Reason)
	default:
		return "", false, fmt.Errorf("unknown tool %q", name)
	}
}

func frameAt(ctx context.Context, page engine.Page, index int) (engine.Frame, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate frames: %w", err)
	}
	if index < 0 || index >= len(frames) {
		return nil, fmt.Errorf("frame index %d out of range (%d frames)", index, len(frames))
	}
	return frames[index], nil
}

func pageTools() []anthropic.ToolUnionParam {
	refProps := map[string]any{
		"frame": map[string]any{"type": "integer", "description": "Frame index from the control inventory."},
		"ref":   map[string]any{"type": "string", "description": "Control ref from the inventory."},
	}
	fillProps := map[string]any{
		"frame": refProps["frame"],
		"ref":   refProps["ref"],
		"value": map[string]any{"type": "string", "description": "Value to write into the control."},
	}
	finishProps := map[string]any{
		"outcome": map[string]any{"type": "string", "enum": []string{"done", "failed"}},
		"reason":  map[string]any{"type": "string", "description": "Required when outcome is failed."},
	}
	return []anthropic.ToolUnionParam{
		{OfTool: &anthropic.ToolParam{
			Name:        "fill_control",
			Description: anthropic.String("Set a form control's value."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: fillProps},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "click_control",
			Description: anthropic.String("Click a button or link."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: refProps},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "check_control",
			Description: anthropic.String("Check a checkbox or select a radio option."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: refProps},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "finish",
			Description: anthropic.String("Report that the action is done or cannot be performed."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: finishProps},
		}},
	}
}
