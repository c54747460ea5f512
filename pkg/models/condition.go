package models

// Condition is a boolean expression evaluated against the current workflow
// variable context. Description is for humans reading the workflow definition.
type Condition struct {
	Expression  string `json:"expression"  validate:"required"`
	Description string `json:"description,omitempty"`
}
