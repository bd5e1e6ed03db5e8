package domain

import "encoding/json"

// Event represents one entry in a thread's ordered event stream. Events
// are ephemeral and never persisted; Seq increases monotonically per
// thread in emission order.
type Event struct {
	EventID  string          `json:"event_id"`
	ThreadID string          `json:"thread_id"`
	RunID    string          `json:"run_id,omitempty"`
	Seq      int64           `json:"seq"`
	Ts       int64           `json:"ts"` // Unix milliseconds
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// StartedPayload is the payload of an agent_started event.
type StartedPayload struct {
	UserRequest string `json:"user_request"`
	StageCount  int    `json:"stage_count"`
	Resumed     bool   `json:"resumed,omitempty"`
}

// ThinkingPayload is the payload of an agent_thinking event.
type ThinkingPayload struct {
	Stage string `json:"stage,omitempty"`
	Text  string `json:"text"`
}

// ToolExecutingPayload is the payload of a tool_executing event.
type ToolExecutingPayload struct {
	Tool  string          `json:"tool"`
	Stage string          `json:"stage,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// ToolCompletedPayload is the payload of a tool_completed event. Tool
// matches the preceding tool_executing event for the same call.
type ToolCompletedPayload struct {
	Tool       string          `json:"tool"`
	Stage      string          `json:"stage,omitempty"`
	OK         bool            `json:"ok"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// CompletedPayload is the payload of the terminal agent_completed event.
// Usage is the downstream metering input for billing; it is delivered at
// most once per completed run.
type CompletedPayload struct {
	RunID          string     `json:"run_id"`
	Status         RunStatus  `json:"status"`
	StagesExecuted []string   `json:"stages_executed"`
	Usage          *UsageData `json:"usage,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
}

// UsageData carries token and timing usage attributed to one run.
type UsageData struct {
	TotalTokens      int `json:"total_tokens,omitempty"`
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	ToolCalls        int `json:"tool_calls,omitempty"`
	DurationMs       int `json:"duration_ms,omitempty"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}
