package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Workflow is an ordered, conditionally-branchable sequence of agent
// invocations sharing a mutable variable context.
//
// Branches maps a step ID to a condition: after any step completes, the first
// branch (in sorted step-ID order) whose condition evaluates true against the
// current context becomes the next step. Without a matching branch, execution
// continues in list order.
//
// Agents are injected at run time by whoever executes the workflow; the
// workflow itself only names them by ID.
type Workflow struct {
	ID        string                `json:"id"`
	Name      string                `json:"name" validate:"required,min=3"`
	Steps     []*WorkflowStep       `json:"steps" validate:"dive"`
	Triggers  []*Trigger            `json:"triggers,omitempty" validate:"dive"`
	Branches  map[string]*Condition `json:"branches,omitempty"`
	Variables map[string]any        `json:"variables,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// StepByID returns the step with the given ID, if present.
func (w *Workflow) StepByID(id string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Validate checks the workflow definition against its struct tags and
// verifies that branch targets name existing steps.
func (w *Workflow) Validate() error {
	err := validator.New().Struct(w)
	if err != nil {
		return err
	}

	for stepID := range w.Branches {
		if _, ok := w.StepByID(stepID); !ok {
			return NewWorkflowError("Validate", w.ID, ErrStepNotFound)
		}
	}

	return nil
}
