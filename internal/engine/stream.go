package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/openclaw/flux/internal/llm"
	"github.com/openclaw/flux/internal/resilience"
	"github.com/openclaw/flux/internal/tools"
	"github.com/openclaw/flux/pkg/models"
)

var errStreamClosedWithoutResult = errors.New("engine: provider stream closed before content_complete")

// EventType tags the kind of an Event on a RunTurnStream channel.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolUseStart EventType = "tool_use_start"
	EventToolUseDelta EventType = "tool_use_delta"
	EventToolUseEnd   EventType = "tool_use_end"
	EventToolResult   EventType = "tool_result"
	EventTurnComplete EventType = "turn_complete"
	EventError        EventType = "error"
)

// Event is one item on a RunTurnStream channel.
type Event struct {
	Type EventType

	TextDelta      string
	ToolUseID      string
	ToolName       string
	ToolInputDelta string

	// EventToolResult
	ToolResultContent string
	ToolResultIsError bool

	// EventTurnComplete
	Result *models.TurnResult

	// EventError
	Err error
}

// RunTurnStream is the streaming variant of RunTurn: identical control flow,
// but each LLM call is replaced by a stream of llm.StreamEvent. text_delta
// and tool_use_* events are forwarded to the caller as-is; content_complete
// terminates a round and feeds back into the loop. Falls back to RunTurn
// (followed by a single turn_complete event) when the provider cannot
// stream natively.
func (e *Engine) RunTurnStream(ctx context.Context, messages *[]models.Message, system, userID string, hooks Hooks) <-chan Event {
	events := make(chan Event)
	if !e.provider.SupportsStreaming() {
		go func() {
			defer close(events)
			result := e.RunTurn(ctx, messages, system, userID, hooks)
			events <- Event{Type: EventTurnComplete, Result: &result}
		}()
		return events
	}

	go func() {
		defer close(events)
		e.streamLoop(ctx, messages, system, userID, hooks, events)
	}()
	return events
}

func (e *Engine) streamLoop(ctx context.Context, messages *[]models.Message, system, userID string, hooks Hooks, events chan<- Event) {
	*messages = trimHistory(*messages, e.cfg.MaxHistory)
	schemas := e.tools.Schemas(e.cfg.RestrictedTools)

	result := models.TurnResult{}
	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		result.ToolRounds = round + 1

		resp, err := e.streamOneRound(ctx, *messages, system, schemas, events)
		if err != nil {
			result.Error = err.Error()
			events <- Event{Type: EventTurnComplete, Result: &result}
			return
		}

		e.record(userID, resp, &result)

		if resp.StopReason == models.StopMaxTokens {
			appendTruncatedRound(messages, resp)
			continue
		}

		toolUses := toolUseBlocks(resp.Content)
		if len(toolUses) == 0 {
			*messages = append(*messages, assistantMessage(resp.Content))
			result.Text = textOf(resp.Content)
			result.StopReason = resp.StopReason
			events <- Event{Type: EventTurnComplete, Result: &result}
			return
		}

		*messages = append(*messages, assistantMessage(resp.Content))
		toolResults := e.runToolsStreamed(ctx, toolUses, hooks, events)
		*messages = append(*messages, models.Message{Role: models.RoleUser, Content: toolResults})
	}

	result.Error = "도구 호출이 " + strconv.Itoa(e.cfg.MaxToolRounds) + "회를 초과하여 중단되었습니다."
	events <- Event{Type: EventTurnComplete, Result: &result}
}

// streamOneRound opens one LLM stream, retrying the whole round on a
// retryable transport failure, and forwards every delta event as it
// arrives. It returns once content_complete closes the round.
func (e *Engine) streamOneRound(ctx context.Context, messages []models.Message, system string, schemas []models.ToolSchema, events chan<- Event) (*llm.Response, error) {
	return resilience.DoValue(ctx, e.cfg.RetryConfig, func() (*llm.Response, error) {
		ch, err := e.provider.CreateMessageStream(ctx, llm.Request{
			Messages:  messages,
			System:    system,
			Tools:     schemas,
			MaxTokens: e.cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		for ev := range ch {
			switch ev.Type {
			case llm.EventTextDelta:
				events <- Event{Type: EventTextDelta, TextDelta: ev.TextDelta}
			case llm.EventToolUseStart:
				events <- Event{Type: EventToolUseStart, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName}
			case llm.EventToolUseDelta:
				events <- Event{Type: EventToolUseDelta, ToolUseID: ev.ToolUseID, ToolInputDelta: ev.ToolInputDelta}
			case llm.EventToolUseEnd:
				events <- Event{Type: EventToolUseEnd, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName}
			case llm.EventContentComplete:
				return ev.Response, nil
			case llm.EventError:
				return nil, ev.Err
			}
		}
		return nil, errStreamClosedWithoutResult
	})
}

func (e *Engine) runToolsStreamed(ctx context.Context, toolUses []models.ContentBlock, hooks Hooks, events chan<- Event) []models.ContentBlock {
	results := make([]models.ContentBlock, 0, len(toolUses))
	for _, tu := range toolUses {
		var block models.ContentBlock
		switch {
		case e.cfg.RestrictedTools[tu.ToolName]:
			block = toolResult(tu.ToolUseID, errRestrictedKo(tu.ToolName), true)
		default:
			schema, ok := e.tools.Get(tu.ToolName)
			if !ok {
				block = toolResult(tu.ToolUseID, errUnknownKo(tu.ToolName), false)
				break
			}
			inputs := tools.FilterInput(schema, tu.ToolInput)
			if hooks.OnToolStart != nil {
				hooks.OnToolStart(tu.ToolUseID, tu.ToolName, inputs)
			}
			out, err := e.tools.Invoke(ctx, tu.ToolName, inputs)
			if err != nil {
				out = errUnknownKo(tu.ToolName)
			}
			if hooks.OnToolEnd != nil {
				hooks.OnToolEnd(tu.ToolUseID, tu.ToolName, out, err != nil)
			}
			block = toolResult(tu.ToolUseID, safeWrap(out), false)
		}
		events <- Event{Type: EventToolResult, ToolUseID: tu.ToolUseID, ToolResultContent: block.Content, ToolResultIsError: block.IsError}
		results = append(results, block)
	}
	return results
}
