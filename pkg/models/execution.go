package models

import "time"

type ExecutionType string

const (
	ExecutionTypeAgent    ExecutionType = "agent"
	ExecutionTypeWorkflow ExecutionType = "workflow"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusError     ExecutionStatus = "error"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution records one run of an agent or workflow. It is created in the
// running state and mutated exactly once into a terminal state; CompletedAt
// is set if and only if the status is terminal.
type Execution struct {
	ID          string          `json:"id"`
	Type        ExecutionType   `json:"type"`
	EntityID    string          `json:"entity_id"`
	Status      ExecutionStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Terminal reports whether the execution has reached a final state.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionStatusCompleted ||
		e.Status == ExecutionStatusError ||
		e.Status == ExecutionStatusCancelled
}
