// Package types defines the entity schemas, enums, and constants shared by
// every component of the fleet orchestration kernel.
package types

import "time"

// AgentStatus is the lifecycle state of an agent row.
type AgentStatus string

const (
	AgentCreated    AgentStatus = "created"
	AgentActive     AgentStatus = "active"
	AgentTerminated AgentStatus = "terminated"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskFailed     TaskStatus = "failed"
)

// TaskPriority ranks tasks for assignment and resource listing order.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// SessionStatus is the lifecycle state of an MCP session persistence row.
type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionDisconnected SessionStatus = "disconnected"
	SessionRecovered    SessionStatus = "recovered"
	SessionExpired      SessionStatus = "expired"
)

// AdminAgentID is the canonical literal used for tasks created by or
// assigned to the admin operator rather than a spawned agent.
const AdminAgentID = "admin"

// Agent is a long-lived subordinate process performing a role under its own
// tmux session, addressable by AgentID and authenticated by Token.
type Agent struct {
	AgentID          string      `json:"agent_id"`
	Token            string      `json:"token,omitempty"`
	Capabilities     []string    `json:"capabilities"`
	Status           AgentStatus `json:"status"`
	CurrentTask      string      `json:"current_task,omitempty"`
	WorkingDirectory string      `json:"working_directory"`
	Color            string      `json:"color"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	TerminatedAt     *time.Time  `json:"terminated_at,omitempty"`
}

// TaskNote is one entry in a task's ordered annotation sequence.
type TaskNote struct {
	Timestamp time.Time `json:"ts"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
}

// Task is a unit of work with a status lifecycle, optionally nested under a
// parent task.
type Task struct {
	TaskID      string       `json:"task_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	CreatedBy   string       `json:"created_by"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	ParentTask  string       `json:"parent_task,omitempty"`
	Notes       []TaskNote   `json:"notes"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskDependency records that TaskID cannot be considered satisfied until
// DependsOnTaskID is.
type TaskDependency struct {
	TaskID          string `json:"task_id"`
	DependsOnTaskID string `json:"depends_on_task_id"`
}

// AgentAction is one append-only audit log row.
type AgentAction struct {
	ID         int64             `json:"id"`
	AgentID    string            `json:"agent_id"`
	ActionType string            `json:"action_type"`
	TaskID     string            `json:"task_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Details    map[string]any    `json:"details,omitempty"`
}

// ContextEntry is one row of the shared project memory.
type ContextEntry struct {
	ContextKey  string    `json:"context_key"`
	Value       any       `json:"value"`
	Description string    `json:"description"`
	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by"`
}

// FileMetadata is the per-file audit-trail row, keyed by absolute normalized
// path.
type FileMetadata struct {
	FilePath    string    `json:"filepath"`
	Metadata    any       `json:"metadata"`
	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by"`
	ContentHash string    `json:"content_hash"`
}

// AgentMessage is one agent-to-agent message.
type AgentMessage struct {
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Priority    string    `json:"priority"`
	Timestamp   time.Time `json:"timestamp"`
	Delivered   bool      `json:"delivered"`
	Read        bool      `json:"read"`
}

// SessionRecord is the persisted shadow of an MCP session. The in-memory
// transport map owned by the session manager is the other half; this row is
// the only thing that survives a restart.
type SessionRecord struct {
	MCPSessionID        string        `json:"mcp_session_id"`
	TransportState      []byte        `json:"transport_state,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	LastHeartbeat        time.Time     `json:"last_heartbeat"`
	Status              SessionStatus `json:"status"`
	DisconnectedAt       *time.Time    `json:"disconnected_at,omitempty"`
	GracePeriodExpires   *time.Time    `json:"grace_period_expires,omitempty"`
	RecoveryAttempts     int           `json:"recovery_attempts"`
	WorkingDirectory     string        `json:"working_directory"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	AgentContext         map[string]any `json:"agent_context,omitempty"`
	ConversationState    []byte        `json:"conversation_state,omitempty"`
}

// SessionState is one upserted per-session, per-agent state_key value.
type SessionState struct {
	AgentID      string     `json:"agent_id"`
	MCPSessionID string     `json:"mcp_session_id"`
	StateKey     string     `json:"state_key"`
	StateValue   any        `json:"state_value"`
	LastUpdated  time.Time  `json:"last_updated"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// AlertThresholds configures when the supervisor raises an operational
// Alert for the testing-agent pipeline (SPEC_FULL §3 supplemented feature,
// the shape is the teacher's own AlertThresholds/Alert idiom).
type AlertThresholds struct {
	TestingFailuresMax   int           `json:"testing_failures_max"`
	PipelineStallMax     time.Duration `json:"pipeline_stall_max"`
	RecoveryDeniedMax    int           `json:"recovery_denied_max"`
}

// DefaultThresholds returns the supervisor's default alert thresholds.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		TestingFailuresMax: 5,
		PipelineStallMax:   2 * time.Minute,
		RecoveryDeniedMax:  10,
	}
}

// Alert is a supervisor-raised operational notice surfaced via /stats and
// internal/notify.
type Alert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AgentID      string    `json:"agent_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"` // "warning", "critical"
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// TestingAgentCapabilities are the fixed capability set granted to every
// auto-spawned testing agent (§4.6.1).
var TestingAgentCapabilities = []string{"testing", "validation", "criticism", "audit"}
