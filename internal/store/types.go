package store

import "time"

// WorkItemStatus is a work item's lifecycle state (spec.md §4.3).
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemInProgress WorkItemStatus = "in_progress"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemFailed     WorkItemStatus = "failed"
)

// WorkItem is the durable record backing a unit of dispatchable work.
type WorkItem struct {
	ID            string
	Persona       string
	Payload       string
	Status        WorkItemStatus
	AgentID       string
	Priority      int
	Result        string
	FailureReason string
	Attempt       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
}

// WorkItemFilter narrows a work item listing query.
type WorkItemFilter struct {
	Status  WorkItemStatus
	AgentID string
	Persona string
	Limit   int
}

// AgentStatus is an agent's lifecycle state (spec.md §4.4).
type AgentStatus string

const (
	AgentStarting AgentStatus = "starting"
	AgentRunning  AgentStatus = "running"
	AgentStopped  AgentStatus = "stopped"
	AgentKilled   AgentStatus = "killed"
)

// Agent is the durable record of one coordinated agent process.
type Agent struct {
	ID          string
	Persona     string
	PID         *int
	Status      AgentStatus
	KillReason  string
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentFilter narrows an agent listing query.
type AgentFilter struct {
	Persona string
	Status  AgentStatus
}

// MemoryEntry is a namespaced key/value record (spec.md §4.7).
type MemoryEntry struct {
	Namespace      string
	Key            string
	Value          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
	AccessCount    int
}

// EventLogRecord is one persisted audit entry (spec.md §4.8).
type EventLogRecord struct {
	ID         int64
	Category   string
	EventType  string
	SubjectID  string
	Detail     string
	OccurredAt time.Time
}
