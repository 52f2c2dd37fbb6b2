package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openclaw/flux/pkg/models"
)

// AnthropicProvider adapts anthropic-sdk-go's Messages API to Provider.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicProvider builds a provider bound to a single model, matching
// the teacher's one-provider-per-vendor-config convention.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) Model() string           { return p.model }
func (p *AnthropicProvider) SupportsStreaming() bool { return true }

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// CreateMessage performs a single non-streaming call.
func (p *AnthropicProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return anthropicMessageToResponse(msg), nil
}

// CreateMessageStream streams content_block/text/tool_use deltas and
// terminates with a content_complete event carrying the assembled Response.
func (p *AnthropicProvider) CreateMessageStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		acc := anthropic.Message{}
		var currentToolID, currentToolName string
		var currentToolJSON string

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				events <- StreamEvent{Type: EventError, Err: fmt.Errorf("anthropic: accumulate: %w", err)}
				return
			}

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					currentToolID = tu.ID
					currentToolName = tu.Name
					currentToolJSON = ""
					events <- StreamEvent{Type: EventToolUseStart, ToolUseID: currentToolID, ToolName: currentToolName}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					events <- StreamEvent{Type: EventTextDelta, TextDelta: delta.Text}
				case anthropic.InputJSONDelta:
					currentToolJSON += delta.PartialJSON
					events <- StreamEvent{Type: EventToolUseDelta, ToolUseID: currentToolID, ToolInputDelta: delta.PartialJSON}
				}
			case anthropic.ContentBlockStopEvent:
				if currentToolID != "" {
					events <- StreamEvent{Type: EventToolUseEnd, ToolUseID: currentToolID, ToolName: currentToolName}
					currentToolID, currentToolName, currentToolJSON = "", "", ""
				}
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			events <- StreamEvent{Type: EventError, Err: fmt.Errorf("anthropic: stream: %w", err)}
			return
		}
		events <- StreamEvent{Type: EventContentComplete, Response: anthropicMessageToResponse(&acc)}
	}()
	return events, nil
}

func anthropicMessageToResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason:   anthropicStopReason(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, models.ContentBlock{Type: models.BlockText, Text: b.Text})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(b.Input, &input)
			resp.Content = append(resp.Content, models.ContentBlock{
				Type:      models.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: input,
			})
		}
	}
	return resp
}

func anthropicStopReason(reason anthropic.StopReason) models.StopReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return models.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return models.StopMaxTokens
	case anthropic.StopReasonStopSequence:
		return models.StopStopSequence
	default:
		return models.StopEndTurn
	}
}

func convertMessagesToAnthropic(messages []models.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Type {
			case models.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case models.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolUseID, c.ToolInput, c.ToolName))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolUseIDRef, c.Content, c.IsError))
			}
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func convertToolsToAnthropic(schemas []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		raw, err := json.Marshal(s.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input_schema for %s: %w", s.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", s.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", s.Name)
		}
		toolParam.OfTool.Description = anthropic.String(s.Description)
		out = append(out, toolParam)
	}
	return out, nil
}
