package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openclaw/flux/pkg/models"
)

// OpenAIProvider adapts sashabaranov/go-openai's chat completion API to
// Provider, translating the tool_use/tool_result block shapes at its edge.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIProvider builds a provider bound to a single model.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) Model() string           { return p.model }
func (p *OpenAIProvider) SupportsStreaming() bool { return true }

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	out := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  convertMessagesToOpenAI(req.Messages, req.System),
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if len(req.Tools) > 0 {
		out.Tools = convertToolsToOpenAI(req.Tools)
	}
	return out
}

// CreateMessage performs a single non-streaming call.
func (p *OpenAIProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}
	return choiceToResponse(resp.Choices[0], resp.Usage), nil
}

// CreateMessageStream streams content deltas and terminates with a
// content_complete event carrying the assembled Response.
func (p *OpenAIProvider) CreateMessageStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		var text string
		toolCalls := map[int]*openai.ToolCall{}
		var order []int
		var finishReason openai.FinishReason
		var usage openai.Usage

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				events <- StreamEvent{Type: EventError, Err: fmt.Errorf("openai: stream: %w", err)}
				return
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta.Content != "" {
				text += choice.Delta.Content
				events <- StreamEvent{Type: EventTextDelta, TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				existing, seen := toolCalls[idx]
				if !seen {
					call := tc
					toolCalls[idx] = &call
					order = append(order, idx)
					events <- StreamEvent{Type: EventToolUseStart, ToolUseID: tc.ID, ToolName: tc.Function.Name}
					continue
				}
				existing.Function.Arguments += tc.Function.Arguments
				events <- StreamEvent{Type: EventToolUseDelta, ToolUseID: existing.ID, ToolInputDelta: tc.Function.Arguments}
			}
		}
		for _, idx := range order {
			tc := toolCalls[idx]
			events <- StreamEvent{Type: EventToolUseEnd, ToolUseID: tc.ID, ToolName: tc.Function.Name}
		}

		resp := &Response{
			StopReason:   openaiFinishReason(finishReason),
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		}
		if text != "" {
			resp.Content = append(resp.Content, models.ContentBlock{Type: models.BlockText, Text: text})
		}
		for _, idx := range order {
			tc := toolCalls[idx]
			var input map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			resp.Content = append(resp.Content, models.ContentBlock{
				Type:      models.BlockToolUse,
				ToolUseID: tc.ID,
				ToolName:  tc.Function.Name,
				ToolInput: input,
			})
		}
		events <- StreamEvent{Type: EventContentComplete, Response: resp}
	}()
	return events, nil
}

func choiceToResponse(choice openai.ChatCompletionChoice, usage openai.Usage) *Response {
	resp := &Response{
		StopReason:   openaiFinishReason(choice.FinishReason),
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, models.ContentBlock{Type: models.BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		resp.Content = append(resp.Content, models.ContentBlock{
			Type:      models.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: input,
		})
	}
	return resp
}

func openaiFinishReason(reason openai.FinishReason) models.StopReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.StopToolUse
	case openai.FinishReasonLength:
		return models.StopMaxTokens
	case openai.FinishReasonContentFilter:
		return models.StopStopSequence
	default:
		return models.StopEndTurn
	}
}

func convertMessagesToOpenAI(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var text string
		var toolCalls []openai.ToolCall
		for _, c := range m.Content {
			switch c.Type {
			case models.BlockText:
				text += c.Text
			case models.BlockToolUse:
				args, _ := json.Marshal(c.ToolInput)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   c.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      c.ToolName,
						Arguments: string(args),
					},
				})
			case models.BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    c.Content,
					ToolCallID: c.ToolUseIDRef,
				})
			}
		}
		if text != "" || len(toolCalls) > 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: toolCalls})
		}
	}
	return out
}

func convertToolsToOpenAI(schemas []models.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema,
			},
		})
	}
	return out
}
