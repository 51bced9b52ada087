package runner

// EventType identifies a runner transition.
type EventType string

const (
	EventAgentStarted   EventType = "agentStarted"
	EventAgentDelta     EventType = "agentDelta"
	EventAgentCompleted EventType = "agentCompleted"
	EventAgentFailed    EventType = "agentFailed"
	EventStatus         EventType = "status"
)

// Event is a runner transition notification.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	Advanced  bool      `json:"advanced,omitempty"`
	Completed bool      `json:"completed,omitempty"`
	Ready     bool      `json:"ready,omitempty"`
}

// Emitter receives runner events. Implementations must not block; a slow
// consumer drops events rather than stalling the cycle.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
