// Package llm defines the provider-agnostic LLM contract (SPEC_FULL.md §4.4)
// and vendor adapters that translate into and out of it at their edges.
package llm

import (
	"context"

	"github.com/openclaw/flux/pkg/models"
)

// Request is a single completion request. Messages follow the normative
// internal shape (spec §4.4): an ordered list of role-tagged content blocks.
type Request struct {
	Messages  []models.Message
	System    string
	Tools     []models.ToolSchema
	MaxTokens int
}

// Response is the result of a synchronous completion call.
type Response struct {
	Content      []models.ContentBlock
	StopReason   models.StopReason
	InputTokens  int
	OutputTokens int
}

// StreamEventType tags the kind of a streamed event (spec §4.3's
// run_turn_stream event set).
type StreamEventType string

const (
	EventTextDelta       StreamEventType = "text_delta"
	EventToolUseStart    StreamEventType = "tool_use_start"
	EventToolUseDelta    StreamEventType = "tool_use_delta"
	EventToolUseEnd      StreamEventType = "tool_use_end"
	EventContentComplete StreamEventType = "content_complete"
	EventError           StreamEventType = "error"
)

// StreamEvent is one item in a CreateMessageStream channel.
type StreamEvent struct {
	Type StreamEventType

	// EventTextDelta
	TextDelta string

	// EventToolUseStart / EventToolUseDelta / EventToolUseEnd
	ToolUseID      string
	ToolName       string
	ToolInputDelta string

	// EventContentComplete carries the fully assembled response.
	Response *Response

	// EventError
	Err error
}

// Provider is the vendor-agnostic LLM contract. Implementations must be
// safe for concurrent use: the engine may have multiple turns in flight
// across different callers at once.
type Provider interface {
	// CreateMessage sends req and blocks for the full response.
	CreateMessage(ctx context.Context, req Request) (*Response, error)

	// CreateMessageStream sends req and returns a channel of StreamEvent,
	// terminated by an EventContentComplete (success) or EventError
	// (failure) event, after which the channel is closed. Providers that
	// cannot stream natively may synthesize this from CreateMessage.
	CreateMessageStream(ctx context.Context, req Request) (<-chan StreamEvent, error)

	// Model is the model name used for cost lookup when the caller does
	// not override it per-request.
	Model() string

	// SupportsStreaming reports whether CreateMessageStream streams
	// incrementally or is a single-shot synthesis over CreateMessage.
	SupportsStreaming() bool
}
