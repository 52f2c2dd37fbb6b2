package llm

import (
	"context"
	"testing"

	"github.com/openclaw/flux/pkg/models"
)

func TestFakeProvider_CreateMessage_PopsQueue(t *testing.T) {
	f := &FakeProvider{
		ModelName: "fake-model",
		Responses: []Response{
			{Content: []models.ContentBlock{{Type: models.BlockText, Text: "first"}}, StopReason: models.StopEndTurn},
			{Content: []models.ContentBlock{{Type: models.BlockText, Text: "second"}}, StopReason: models.StopEndTurn},
		},
	}

	r1, err := f.CreateMessage(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Content[0].Text != "first" {
		t.Fatalf("unexpected first response: %+v", r1)
	}

	r2, err := f.CreateMessage(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if r2.Content[0].Text != "second" {
		t.Fatalf("unexpected second response: %+v", r2)
	}
}

func TestFakeProvider_CreateMessage_ExhaustedQueueErrors(t *testing.T) {
	f := &FakeProvider{ModelName: "fake-model"}
	if _, err := f.CreateMessage(context.Background(), Request{}); err == nil {
		t.Fatal("expected an error from an empty response queue")
	}
}

func TestFakeProvider_CreateMessageStream_SynthesizesFromResponse(t *testing.T) {
	f := &FakeProvider{
		ModelName: "fake-model",
		Responses: []Response{
			{
				Content: []models.ContentBlock{
					{Type: models.BlockText, Text: "hello"},
					{Type: models.BlockToolUse, ToolUseID: "t1", ToolName: "weather"},
				},
				StopReason: models.StopToolUse,
			},
		},
	}

	events, err := f.CreateMessageStream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}

	var seen []StreamEventType
	var final *Response
	for e := range events {
		seen = append(seen, e.Type)
		if e.Type == EventContentComplete {
			final = e.Response
		}
	}

	want := []StreamEventType{EventTextDelta, EventToolUseStart, EventToolUseEnd, EventContentComplete}
	if len(seen) != len(want) {
		t.Fatalf("unexpected event sequence: %+v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], seen[i])
		}
	}
	if final == nil || final.StopReason != models.StopToolUse {
		t.Fatalf("unexpected final response: %+v", final)
	}
}

func TestFakeProvider_CreateMessageStream_ScriptedOverride(t *testing.T) {
	f := &FakeProvider{
		ModelName: "fake-model",
		Streaming: map[int][]StreamEvent{
			0: {
				{Type: EventError, Err: context.DeadlineExceeded},
			},
		},
	}

	events, err := f.CreateMessageStream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	e := <-events
	if e.Type != EventError || e.Err != context.DeadlineExceeded {
		t.Fatalf("unexpected scripted event: %+v", e)
	}
}
