// Package models defines the entity shapes shared across the flux core:
// messages, conversations, tools, turn results, users, and tokens.
package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged variant over the LLM's duck-typed content blocks
// (see SPEC_FULL.md §9 "Duck-typed LLM response blocks → tagged variant").
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text block.
	Text string `json:"text,omitempty"`

	// ToolUse block.
	ToolUseID string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`

	// ToolResult block.
	ToolUseIDRef string `json:"tool_use_id,omitempty"`
	Content      string `json:"content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

// Message is a role-tagged, append-only content block sequence owned by a
// Conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        []ContentBlock `json:"content"`
	TokenCount     int            `json:"token_count,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Conversation is a chronologically-ordered message container.
type Conversation struct {
	ID        string         `json:"id"`
	Interface string         `json:"interface"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StopReason is why an LLM call terminated.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// TurnResult is the outcome of one ConversationEngine.RunTurn.
type TurnResult struct {
	Text         string     `json:"text"`
	ToolRounds   int        `json:"tool_rounds"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      float64    `json:"cost_usd"`
	StopReason   StopReason `json:"stop_reason"`
	Error        string     `json:"error,omitempty"`
}

// Role rank ordering for authorization (readonly < user < admin).
type UserRole string

const (
	RoleReadonly UserRole = "readonly"
	RoleUserRank UserRole = "user"
	RoleAdmin    UserRole = "admin"
)

// Rank returns the linear order rank of a role; unknown roles rank below
// readonly so they never satisfy a RequireRole check.
func (r UserRole) Rank() int {
	switch r {
	case RoleReadonly:
		return 0
	case RoleUserRank:
		return 1
	case RoleAdmin:
		return 2
	default:
		return -1
	}
}

// User is an authentication principal.
type User struct {
	ID            string
	Username      string
	Role          UserRole
	APIKeyHash    string
	APIKeyPrefix  string
	MaxDailyCalls int
	IsActive      bool
	CreatedAt     time.Time
}

// RefreshToken is a server-side revocation handle for a long-lived refresh
// credential.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// UserContext is the resolved identity attached to an authenticated request.
type UserContext struct {
	UserID        string
	Username      string
	Role          UserRole
	MaxDailyCalls int
}

// Webhook is a subscriber endpoint for fan-out event delivery.
type Webhook struct {
	ID           string
	UserID       string
	URL          string
	Events       []string
	Secret       string
	IsActive     bool
	FailureCount int
	MaxRetries   int
	CreatedAt    time.Time
}

// WebhookDelivery is an append-only delivery attempt log entry.
type WebhookDelivery struct {
	ID             string
	WebhookID      string
	EventType      string
	PayloadJSON    string
	ResponseStatus int
	ResponseBody   string
	Attempt        int
	DeliveredAt    time.Time
}

// Severity classifies an AuditEvent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AuditEvent is an append-only audit log record.
type AuditEvent struct {
	ID        int64
	Timestamp time.Time
	EventType string
	UserID    string
	SourceIP  string
	Interface string
	Details   map[string]any
	Severity  Severity
}

// MarketplaceEntry is a registered installable tool.
type MarketplaceEntry struct {
	Name         string   `json:"name"`
	Filename     string   `json:"filename"`
	Description  string   `json:"description"`
	Version      string   `json:"version"`
	Author       string   `json:"author"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	SHA256       string   `json:"sha256"`
	Source       string   `json:"source"`
}

// InstalledRecord is a MarketplaceEntry plus install-time bookkeeping.
type InstalledRecord struct {
	MarketplaceEntry
	InstalledAt   time.Time `json:"installed_at"`
	InstallSHA256 string    `json:"sha256_at_install"`
}

// KnowledgeChunk is one indexed slice of a KnowledgeDocument.
type KnowledgeChunk struct {
	ChunkID string   `json:"chunk_id"`
	Text    string   `json:"text"`
	Tokens  []string `json:"tokens"`
}

// KnowledgeDocument is a source document split into chunks for retrieval.
type KnowledgeDocument struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Source    string           `json:"source,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Chunks    []KnowledgeChunk `json:"chunks"`
}

// JobStatus is the lifecycle state of an asynchronously executed job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is an async tool execution record: operations explicitly marked
// long-running (file backups, marketplace verification sweeps) run as a
// Job instead of blocking a conversation turn.
type Job struct {
	ID         string    `json:"id"`
	ToolName   string    `json:"tool_name"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Status     JobStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ToolSchema is the JSON-Schema-shaped contract a tool exposes to the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
