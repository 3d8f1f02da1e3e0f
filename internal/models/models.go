package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks an assistant message through a streamed request.
// Plain messages that were never streamed are created as StatusComplete.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusThinking MessageStatus = "thinking"
	StatusComplete MessageStatus = "complete"
	StatusFailed   MessageStatus = "failed"
)

func (s MessageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Message represents one entry of a chat transcript
type Message struct {
	ID          string          `json:"id"`
	ChatID      int64           `json:"chat_id"`
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Products    []Product       `json:"products,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Agent       string          `json:"agent,omitempty"`
	Status      MessageStatus   `json:"status"`
	Execution   *ExecutionTrace `json:"agent_execution,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy so callers can render a message without holding
// the transcript lock.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Products != nil {
		c.Products = append([]Product(nil), m.Products...)
	}
	if m.Suggestions != nil {
		c.Suggestions = append([]string(nil), m.Suggestions...)
	}
	c.Execution = m.Execution.Clone()
	return &c
}

// HistoryEntry is the reduced form of a message sent back to the backend as
// conversation context.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
}

type ChatResponse struct {
	Response    string          `json:"response"`
	Products    []Product       `json:"products"`
	Suggestions []string        `json:"suggestions"`
	Execution   *ExecutionTrace `json:"agent_execution,omitempty"`
	Model       string          `json:"model,omitempty"`
	Success     *bool           `json:"success,omitempty"`
}

type EventType string

const (
	EventAgentStep EventType = "agent_step"
	EventToolCall  EventType = "tool_call"
	EventContent   EventType = "content"
	EventComplete  EventType = "complete"
)

// StreamEvent is a single data frame of the chat event stream.
type StreamEvent struct {
	Type     EventType     `json:"type"`
	Agent    string        `json:"agent,omitempty"`
	Action   string        `json:"action,omitempty"`
	Status   string        `json:"status,omitempty"`
	Tool     string        `json:"tool,omitempty"`
	Params   string        `json:"params,omitempty"`
	Content  string        `json:"content,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
}

type HealthStatus struct {
	Status   string `json:"status"`
	Database any    `json:"database,omitempty"`
	Bedrock  any    `json:"bedrock,omitempty"`
	Version  string `json:"version,omitempty"`
}

func (h *HealthStatus) Healthy() bool {
	return h != nil && (h.Status == "healthy" || h.Status == "ok")
}
