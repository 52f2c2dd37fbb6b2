package llm

import "context"

// FakeProvider is a scripted Provider for engine tests: each call to
// CreateMessage/CreateMessageStream pops the next queued response.
type FakeProvider struct {
	ModelName string
	Responses []Response
	Errs      []error
	calls     int

	// Streaming, if set, overrides the synthesized stream events for the
	// call at that index; otherwise CreateMessageStream emits one text_delta
	// per text block and a tool_use_start/tool_use_end pair per tool_use
	// block, followed by content_complete.
	Streaming map[int][]StreamEvent
}

func (f *FakeProvider) Model() string           { return f.ModelName }
func (f *FakeProvider) SupportsStreaming() bool { return true }

// CreateMessage returns the next queued Response or error.
func (f *FakeProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.Errs) && f.Errs[idx] != nil {
		return nil, f.Errs[idx]
	}
	if idx >= len(f.Responses) {
		return nil, context.DeadlineExceeded
	}
	resp := f.Responses[idx]
	return &resp, nil
}

// CreateMessageStream synthesizes a stream from the queued response: one
// delta per text block, one start/end pair per tool_use block, then
// content_complete — unless a scripted Streaming sequence is set for this
// call index.
func (f *FakeProvider) CreateMessageStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	idx := f.calls
	events := make(chan StreamEvent, 16)

	if scripted, ok := f.Streaming[idx]; ok {
		f.calls++
		go func() {
			defer close(events)
			for _, e := range scripted {
				events <- e
			}
		}()
		return events, nil
	}

	resp, err := f.CreateMessage(ctx, req)
	if err != nil {
		close(events)
		return nil, err
	}
	go func() {
		defer close(events)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				events <- StreamEvent{Type: EventTextDelta, TextDelta: block.Text}
			case "tool_use":
				events <- StreamEvent{Type: EventToolUseStart, ToolUseID: block.ToolUseID, ToolName: block.ToolName}
				events <- StreamEvent{Type: EventToolUseEnd, ToolUseID: block.ToolUseID, ToolName: block.ToolName}
			}
		}
		events <- StreamEvent{Type: EventContentComplete, Response: resp}
	}()
	return events, nil
}
