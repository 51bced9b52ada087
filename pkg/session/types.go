package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session id does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrSessionLocked is returned by non-blocking mutations when another
	// operation holds the session's exclusive lock.
	ErrSessionLocked = errors.New("session locked")
	// ErrSessionBusy is returned by Acquire under the reject policy.
	ErrSessionBusy = errors.New("session busy")
	// ErrTimeout is returned when a bounded lock wait elapses.
	ErrTimeout = errors.New("session lock wait timed out")
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Status is a session's position in the runner state machine.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Turn is one immutable conversation record.
type Turn struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TokenCost int       `json:"token_cost"`
	Priority  bool      `json:"priority,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// Session is the conversation state for one project.
type Session struct {
	ID           string                       `json:"id"`
	Turns        []Turn                       `json:"turns"`
	ChainPos     int                          `json:"chain_pos"`
	Status       Status                       `json:"status"`
	AgentState   map[string]map[string]string `json:"agent_state,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	LastActivity time.Time                    `json:"last_activity"`
	ExpiresAt    time.Time                    `json:"expires_at"`
}

// Snapshot is the serializable form handed to the persistence collaborator.
// It is sufficient to fully reconstruct a Session on reload.
type Snapshot struct {
	ID           string                       `json:"id"`
	ChainPos     int                          `json:"chain_pos"`
	Status       Status                       `json:"status"`
	Turns        []Turn                       `json:"turns"`
	AgentState   map[string]map[string]string `json:"agent_state,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	LastActivity time.Time                    `json:"last_activity"`
	ExpiresAt    time.Time                    `json:"expires_at"`
}

// AcquirePolicy decides what happens when a second request hits a session
// already mid-cycle.
type AcquirePolicy string

const (
	// PolicyBlock waits for the lock up to the configured bound.
	PolicyBlock AcquirePolicy = "block"
	// PolicyReject fails immediately with ErrSessionBusy.
	PolicyReject AcquirePolicy = "reject"
)
