package models

// WorkflowStep names an agent and how to wire its input and output through
// the workflow variable context.
//
// InputMapping maps destination keys to source expressions: values prefixed
// with "$" are resolved as dotted paths through the context ("$steps.a.output"),
// anything else is taken literally. OutputMapping maps context keys to write
// the agent output under, in addition to the default "output" slot.
type WorkflowStep struct {
	ID             string            `json:"id"       validate:"required"`
	AgentID        string            `json:"agent_id" validate:"required"`
	InputMapping   map[string]string `json:"input_mapping,omitempty"`
	OutputMapping  map[string]string `json:"output_mapping,omitempty"`
	Condition      *Condition        `json:"condition,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"gte=0"`
	RetryAttempts  int               `json:"retry_attempts,omitempty"  validate:"gte=0"`
}
