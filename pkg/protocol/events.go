package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth       = "health"
	EventShutdown     = "shutdown"
	EventMessageSent  = "message.sent"
	EventAgentSpawned = "agent.spawned"
	EventAgentStatus  = "agent.status"
	EventAgentHalted  = "agent.halted"
	EventTerminated   = "agent.terminated"
	EventLLMRetry     = "llm.retry"
	EventLLMFailed    = "llm.failed"
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventToolCall     = "tool.call"
	EventToolResult   = "tool.result"
	EventSchedule     = "schedule.fired"
)

// AgentStatusPayload accompanies EventAgentStatus.
type AgentStatusPayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// LLMRetryPayload accompanies EventLLMRetry and EventLLMFailed.
type LLMRetryPayload struct {
	AgentID string `json:"agentId,omitempty"`
	Service string `json:"service"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// RunPayload accompanies the run.* events.
type RunPayload struct {
	AgentID   string `json:"agentId"`
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

// ToolEventPayload accompanies tool.call / tool.result events.
type ToolEventPayload struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	CallID  string `json:"id"`
	IsError bool   `json:"is_error,omitempty"`
}
