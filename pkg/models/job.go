package models

import "time"

type JobType string

const (
	JobTypeAgentRun    JobType = "agent_run"
	JobTypeWorkflowRun JobType = "workflow_run"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a persisted request to perform one agent or workflow run
// asynchronously. The JSON field names and status values are a stable schema
// read by CLI inspection and API status tooling.
//
// A job only moves forward through queued -> running -> {completed, failed,
// cancelled}. Retries happen in place while the job is running; the status
// never returns to queued.
type Job struct {
	ID          string         `json:"id"          validate:"required"`
	Type        JobType        `json:"type"        validate:"required,oneof=agent_run workflow_run"`
	ResourceID  string         `json:"resource_id" validate:"required"`
	Input       map[string]any `json:"input,omitempty"`
	TenantID    string         `json:"tenant_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ProjectID   string         `json:"project_id,omitempty"`
	Status      JobStatus      `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusCancelled
}
