// Package models defines the core domain models for agent and workflow orchestration.
package models

import "context"

// AgentResult is what an agent run produces. Status mirrors the provider's
// verdict; Error carries the provider-side message when Status is "error".
type AgentResult struct {
	Output     string `json:"output"`
	Status     string `json:"status"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error,omitempty"`
}

const (
	AgentStatusSuccess = "success"
	AgentStatusError   = "error"
)

// Agent is the unit of work a workflow step or standalone run invokes.
// Implementations call out to a language-model provider and block until the
// provider answers. The engine holds a non-owning reference looked up by ID.
//
// Run receives the caller's context; implementations that support cooperative
// cancellation should honor ctx, but the engine does not depend on it.
type Agent interface {
	ID() string
	Run(ctx context.Context, input string, vars map[string]any) (*AgentResult, error)
}
