package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openclaw/flux/pkg/models"
)

func TestConvertMessagesToOpenAI_SystemAndToolResult(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.BlockText, Text: "hi"}}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			{Type: models.BlockToolUse, ToolUseID: "t1", ToolName: "weather", ToolInput: map[string]any{"city": "Seoul"}},
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			{Type: models.BlockToolResult, ToolUseIDRef: "t1", Content: "sunny"},
		}},
	}

	out := convertMessagesToOpenAI(messages, "be helpful")
	if len(out) != 4 { // system + user + assistant(tool_call) + tool result
		t.Fatalf("unexpected message count: %d (%+v)", len(out), out)
	}
	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Fatalf("expected system message first, got %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "weather" {
		t.Fatalf("expected tool call on assistant message, got %+v", out[2])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(out[2].ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatal(err)
	}
	if args["city"] != "Seoul" {
		t.Fatalf("unexpected tool call arguments: %+v", args)
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "t1" {
		t.Fatalf("expected tool result message, got %+v", out[3])
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	schemas := []models.ToolSchema{
		{Name: "weather", Description: "looks up weather", InputSchema: map[string]any{"type": "object"}},
	}
	out := convertToolsToOpenAI(schemas)
	if len(out) != 1 || out[0].Function.Name != "weather" {
		t.Fatalf("unexpected tools: %+v", out)
	}
}

func TestOpenaiFinishReason(t *testing.T) {
	cases := map[string]models.StopReason{
		"tool_calls":     models.StopToolUse,
		"function_call":  models.StopToolUse,
		"length":         models.StopMaxTokens,
		"content_filter": models.StopStopSequence,
		"stop":           models.StopEndTurn,
	}
	for raw, want := range cases {
		if got := openaiFinishReason(openai.FinishReason(raw)); got != want {
			t.Fatalf("%s: want %s got %s", raw, want, got)
		}
	}
}
