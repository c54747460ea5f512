package models

import (
	"errors"
	"fmt"
)

// Sentinel errors all components should wrap and compare against.
var (
	// ErrAgentNotFound indicates no agent is registered under the given ID.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrWorkflowNotFound indicates no workflow is registered under the given ID.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution record was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobNotFound indicates a job was not found in the queue backend.
	ErrJobNotFound = errors.New("job not found")

	// ErrStepNotFound indicates a workflow step was not found by ID.
	ErrStepNotFound = errors.New("workflow step not found")
)

// AgentExecutionError wraps a failure raised by the agent capability itself.
type AgentExecutionError struct {
	AgentID string
	Err     error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s execution failed: %v", e.AgentID, e.Err)
}

func (e *AgentExecutionError) Unwrap() error {
	return e.Err
}

// WorkflowExecutionError wraps a failure inside a workflow run: a step named
// a missing agent, or an agent call returned an error status.
type WorkflowExecutionError struct {
	WorkflowID string
	StepID     string
	Err        error
}

func (e *WorkflowExecutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("workflow %s failed at step %s: %v", e.WorkflowID, e.StepID, e.Err)
	}

	return fmt.Sprintf("workflow %s failed: %v", e.WorkflowID, e.Err)
}

func (e *WorkflowExecutionError) Unwrap() error {
	return e.Err
}

func (e *WorkflowExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WorkflowError wraps workflow definition errors with operation context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}
