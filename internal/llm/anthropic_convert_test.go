package llm

import (
	"testing"

	"github.com/openclaw/flux/pkg/models"
)

func TestConvertMessagesToAnthropic_RoundTripsBlocks(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.BlockText, Text: "hi"}}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			{Type: models.BlockToolUse, ToolUseID: "t1", ToolName: "weather", ToolInput: map[string]any{"city": "Seoul"}},
		}},
	}
	out, err := convertMessagesToAnthropic(messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}

func TestConvertMessagesToAnthropic_RejectsUnknownRole(t *testing.T) {
	messages := []models.Message{{Role: models.Role("system"), Content: nil}}
	if _, err := convertMessagesToAnthropic(messages); err == nil {
		t.Fatal("expected an error for an unsupported role")
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	schemas := []models.ToolSchema{
		{
			Name:        "weather",
			Description: "looks up weather",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
			},
		},
	}
	out, err := convertToolsToAnthropic(schemas)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].OfTool == nil || out[0].OfTool.Name != "weather" {
		t.Fatalf("unexpected tool conversion: %+v", out)
	}
}
