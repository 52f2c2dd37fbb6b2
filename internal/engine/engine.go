// Package engine implements ConversationEngine, the bounded tool-use loop
// that drives a conversation turn end to end: it calls the LLM, prices and
// records usage, and dispatches any requested tool_use blocks back through
// the tool registry until the model stops asking for tools or the round
// budget is exhausted (spec §4.3).
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/flux/internal/cost"
	"github.com/openclaw/flux/internal/llm"
	"github.com/openclaw/flux/internal/resilience"
	"github.com/openclaw/flux/internal/tools"
	"github.com/openclaw/flux/internal/usage"
	"github.com/openclaw/flux/pkg/models"
)

func errRestrictedKo(toolName string) string {
	return fmt.Sprintf("Error: '%s' 도구는 사용할 수 없습니다. (보안 제한)", toolName)
}

func errUnknownKo(toolName string) string {
	return fmt.Sprintf("Error: 알 수 없는 도구: %s", toolName)
}

// ToolInvoker is the subset of *tools.Registry the engine depends on.
type ToolInvoker interface {
	Schemas(restricted map[string]bool) []models.ToolSchema
	Get(name string) (models.ToolSchema, bool)
	Invoke(ctx context.Context, name string, inputs map[string]any) (string, error)
}

// Hooks are optional callbacks fired around each tool invocation.
type Hooks struct {
	OnToolStart func(toolUseID, name string, input map[string]any)
	OnToolEnd   func(toolUseID, name, result string, isError bool)
}

// Config bounds one engine's behavior. Zero values take the spec's
// defaults.
type Config struct {
	MaxHistory      int
	MaxToolRounds   int
	MaxTokens       int
	RetryConfig     resilience.Config
	RestrictedTools map[string]bool
}

func sanitize(cfg Config) Config {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 50
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RetryConfig == (resilience.Config{}) {
		cfg.RetryConfig = resilience.DefaultConfig()
	}
	return cfg
}

// Engine is the ConversationEngine: it owns no mutable per-call state of
// its own, so a single Engine may run many turns concurrently across
// different callers (spec §4.3 "Scheduling model").
type Engine struct {
	provider llm.Provider
	tools    ToolInvoker
	cost     *cost.Tracker
	usage    *usage.Store
	cfg      Config
}

// New builds an Engine.
func New(provider llm.Provider, registry ToolInvoker, tracker *cost.Tracker, usageStore *usage.Store, cfg Config) *Engine {
	return &Engine{
		provider: provider,
		tools:    registry,
		cost:     tracker,
		usage:    usageStore,
		cfg:      sanitize(cfg),
	}
}

// RunTurn drives the tool-use loop to completion synchronously. messages is
// mutated in place to reflect every assistant/tool_result turn appended
// along the way, matching the original implementation's semantics.
func (e *Engine) RunTurn(ctx context.Context, messages *[]models.Message, system, userID string, hooks Hooks) models.TurnResult {
	*messages = trimHistory(*messages, e.cfg.MaxHistory)
	schemas := e.tools.Schemas(e.cfg.RestrictedTools)

	result := models.TurnResult{}
	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		result.ToolRounds = round + 1

		resp, err := resilience.DoValue(ctx, e.cfg.RetryConfig, func() (*llm.Response, error) {
			return e.provider.CreateMessage(ctx, llm.Request{
				Messages:  *messages,
				System:    system,
				Tools:     schemas,
				MaxTokens: e.cfg.MaxTokens,
			})
		})
		if err != nil {
			result.Error = err.Error()
			return result
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
			return result
		}

		*messages = append(*messages, assistantMessage(resp.Content))
		toolResults := e.runTools(ctx, toolUses, hooks)
		*messages = append(*messages, models.Message{Role: models.RoleUser, Content: toolResults})
	}

	result.Error = fmt.Sprintf("도구 호출이 %d회를 초과하여 중단되었습니다.", e.cfg.MaxToolRounds)
	return result
}

func (e *Engine) record(userID string, resp *llm.Response, result *models.TurnResult) {
	priced := e.cost.Price(e.provider.Model(), resp.InputTokens, resp.OutputTokens)
	result.InputTokens += resp.InputTokens
	result.OutputTokens += resp.OutputTokens
	result.CostUSD += priced.TotalCostUSD
	if e.usage != nil {
		_ = e.usage.Increment(userID, resp.InputTokens, resp.OutputTokens, priced.TotalCostUSD)
	}
}

// runTools invokes every requested tool_use block and returns the
// corresponding tool_result content blocks in the same order.
func (e *Engine) runTools(ctx context.Context, toolUses []models.ContentBlock, hooks Hooks) []models.ContentBlock {
	results := make([]models.ContentBlock, 0, len(toolUses))
	for _, tu := range toolUses {
		if e.cfg.RestrictedTools[tu.ToolName] {
			results = append(results, toolResult(tu.ToolUseID, errRestrictedKo(tu.ToolName), true))
			continue
		}
		schema, ok := e.tools.Get(tu.ToolName)
		if !ok {
			results = append(results, toolResult(tu.ToolUseID, errUnknownKo(tu.ToolName), false))
			continue
		}
		inputs := tools.FilterInput(schema, tu.ToolInput)

		if hooks.OnToolStart != nil {
			hooks.OnToolStart(tu.ToolUseID, tu.ToolName, inputs)
		}
		out, err := e.tools.Invoke(ctx, tu.ToolName, inputs)
		if err != nil {
			out = errUnknownKo(tu.ToolName)
		}
		safe := safeWrap(out)
		if hooks.OnToolEnd != nil {
			hooks.OnToolEnd(tu.ToolUseID, tu.ToolName, out, err != nil)
		}
		results = append(results, toolResult(tu.ToolUseID, safe, false))
	}
	return results
}

func toolResult(toolUseID, content string, isError bool) models.ContentBlock {
	return models.ContentBlock{
		Type:         models.BlockToolResult,
		ToolUseIDRef: toolUseID,
		Content:      content,
		IsError:      isError,
	}
}

// safeWrap implements `_safe(result)`: it neutralizes any literal
// "[TOOL OUTPUT]"/"[/TOOL OUTPUT]" substrings already present in a tool's
// own output before wrapping it, so the wrapper markers the LLM sees always
// demarcate genuine tool boundaries.
func safeWrap(result string) string {
	escaped := strings.NewReplacer(
		"[TOOL OUTPUT]", "[TOOL_OUTPUT]",
		"[/TOOL OUTPUT]", "[/TOOL_OUTPUT]",
	).Replace(result)
	return "[TOOL OUTPUT]" + escaped + "[/TOOL OUTPUT]"
}

func assistantMessage(content []models.ContentBlock) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content}
}

func toolUseBlocks(content []models.ContentBlock) []models.ContentBlock {
	var out []models.ContentBlock
	for _, c := range content {
		if c.Type == models.BlockToolUse {
			out = append(out, c)
		}
	}
	return out
}

func textOf(content []models.ContentBlock) string {
	var b strings.Builder
	for _, c := range content {
		if c.Type == models.BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// appendTruncatedRound handles stop_reason=max_tokens: the assistant block
// still goes into history, but every tool_use it contained must be answered
// with an error tool_result or the next turn is conversationally broken.
func appendTruncatedRound(messages *[]models.Message, resp *llm.Response) {
	*messages = append(*messages, assistantMessage(resp.Content))
	var results []models.ContentBlock
	for _, c := range resp.Content {
		if c.Type == models.BlockToolUse {
			results = append(results, toolResult(c.ToolUseID, "Error: response truncated at max_tokens", true))
		}
	}
	if len(results) > 0 {
		*messages = append(*messages, models.Message{Role: models.RoleUser, Content: results})
	}
}

// trimHistory keeps the last n messages, then drops any leading run of
// non-user messages so the trimmed history always opens on a user turn.
func trimHistory(messages []models.Message, n int) []models.Message {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	start := 0
	for start < len(messages) && messages[start].Role != models.RoleUser {
		start++
	}
	return messages[start:]
}
