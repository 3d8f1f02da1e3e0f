package models

// Agent step statuses reported by the backend.
const (
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
)

type AgentStep struct {
	Agent      string  `json:"agent"`
	Action     string  `json:"action"`
	Status     string  `json:"status"`
	Timestamp  int64   `json:"timestamp"`
	DurationMS float64 `json:"duration_ms"`
}

type ToolCall struct {
	Tool       string  `json:"tool"`
	Params     string  `json:"params,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	DurationMS float64 `json:"duration_ms"`
	Status     string  `json:"status"`
}

type ReasoningStep struct {
	Step      string `json:"step"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ExecutionTrace records the agent and tool activity behind one assistant
// answer.
type ExecutionTrace struct {
	AgentSteps      []AgentStep     `json:"agent_steps"`
	ToolCalls       []ToolCall      `json:"tool_calls"`
	ReasoningSteps  []ReasoningStep `json:"reasoning_steps"`
	TotalDurationMS float64         `json:"total_duration_ms"`
	SuccessRate     float64         `json:"success_rate"`
}

func (t *ExecutionTrace) Clone() *ExecutionTrace {
	if t == nil {
		return nil
	}
	c := *t
	c.AgentSteps = append([]AgentStep(nil), t.AgentSteps...)
	c.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
	c.ReasoningSteps = append([]ReasoningStep(nil), t.ReasoningSteps...)
	return &c
}

func (t *ExecutionTrace) Empty() bool {
	return t == nil || (len(t.AgentSteps) == 0 && len(t.ToolCalls) == 0 && len(t.ReasoningSteps) == 0)
}
