package event

import "time"

// TaskType distinguishes the two delegated workflows.
type TaskType string

const (
	TaskTypeTopics TaskType = "topics"
	TaskTypeSlides TaskType = "slides"
)

// StepStatus is the lifecycle of a thinking step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
)

// ThinkingStep is a unit of the task source's visible reasoning. Identity is
// ID; a re-observation with the same status is a no-op, a differing status is
// an update to the same entity.
type ThinkingStep struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToolStatus is the lifecycle of a tool action. Transitions are monotonic in
// the partial order pending/running -> {completed, failed}.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// ToolAction is one invocation of an external capability by the task source's
// agent. Type is the normalized category from NormalizeToolType.
type ToolAction struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      ToolStatus `json:"status"`
	Input       string     `json:"input,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration derives the tool's runtime when both endpoints are known.
func (a ToolAction) Duration() time.Duration {
	if a.StartedAt == nil || a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(*a.StartedAt)
}

// SlidePreview is one unit of partial generated output. OrderIndex defines
// display order, not arrival order.
type SlidePreview struct {
	ID         string `json:"id"`
	OrderIndex int    `json:"order_index"`
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Layout     Layout `json:"layout"`
}

// AgentRole names a stage in the generation pipeline.
type AgentRole string

const (
	AgentResearcher AgentRole = "researcher"
	AgentPlanner    AgentRole = "planner"
	AgentWriter     AgentRole = "writer"
	AgentDesigner   AgentRole = "designer"
)

// AgentStatus is the lifecycle of one pipeline agent.
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusWorking   AgentStatus = "working"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusError     AgentStatus = "error"
)

// AgentState is a per-agent status projection derived from the event stream.
type AgentState struct {
	Agent         AgentRole   `json:"agent"`
	Status        AgentStatus `json:"status"`
	CurrentAction string      `json:"current_action,omitempty"`
	Progress      *int        `json:"progress,omitempty"` // 0-100
}

// GenerationStatus is the process-wide state of the active generation.
//
//	idle -> thinking -> generating -> completed | error
//
// Any non-terminal state can also transition to cancelled.
type GenerationStatus string

const (
	GenerationStatusIdle       GenerationStatus = "idle"
	GenerationStatusThinking   GenerationStatus = "thinking"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusError      GenerationStatus = "error"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// IsTerminalGenerationStatus reports whether no further transitions are
// possible from status.
func IsTerminalGenerationStatus(status GenerationStatus) bool {
	switch status {
	case GenerationStatusCompleted, GenerationStatusError, GenerationStatusCancelled:
		return true
	}
	return false
}
