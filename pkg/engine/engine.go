// Package engine runs agents and workflows synchronously against in-process
// registries and keeps a queryable ledger of execution records.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/breaker"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/workflow"
	"github.com/google/uuid"
)

// Engine holds the agent and workflow registries plus the execution ledger.
// It is constructed once at process start and injected into workers, the
// scheduler, and API handlers; all shared state is mutex-guarded so those may
// call concurrently.
//
// When a breaker registry is given, every agent call is routed through the
// breaker named after the agent, shielding the engine from a misbehaving
// provider. Passing nil disables breaking.
type Engine struct {
	logger   *slog.Logger
	executor *workflow.Executor
	breakers *breaker.Registry

	mu         sync.RWMutex
	agents     map[string]models.Agent
	workflows  map[string]*models.Workflow
	executions map[string]*models.Execution
	order      []string
}

func NewEngine(logger *slog.Logger, breakers *breaker.Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger:     logger.With("module", "engine"),
		executor:   workflow.NewExecutor(logger),
		breakers:   breakers,
		agents:     make(map[string]models.Agent),
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
	}
}

// RegisterAgent inserts the agent into the registry, replacing any agent
// already registered under the same ID.
func (e *Engine) RegisterAgent(agent models.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.agents[agent.ID()] = agent
}

// RegisterWorkflow inserts the workflow into the registry, replacing any
// workflow already registered under the same ID.
func (e *Engine) RegisterWorkflow(wf *models.Workflow) error {
	err := wf.Validate()
	if err != nil {
		return fmt.Errorf("invalid workflow %s: %w", wf.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.workflows[wf.ID] = wf

	return nil
}

// RunAgent runs one agent synchronously. An execution record is created in
// the running state and moved to its terminal state before RunAgent returns;
// on failure the execution ID is returned together with the error so callers
// can still inspect the recorded run.
func (e *Engine) RunAgent(ctx context.Context, agentID, input, sessionID string, vars map[string]any) (string, error) {
	e.mu.RLock()
	agent, ok := e.agents[agentID]
	e.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrAgentNotFound, agentID)
	}

	execution := e.beginExecution(models.ExecutionTypeAgent, agentID, map[string]any{"session_id": sessionID})
	logger := e.logger.With("agent_id", agentID, "execution_id", execution.ID)

	logger.InfoContext(ctx, "Running agent")

	if vars == nil {
		vars = make(map[string]any)
	}

	if sessionID != "" {
		vars["session_id"] = sessionID
	}

	agentResult, err := e.callAgent(ctx, agent, input, vars)
	if err != nil {
		e.finishExecution(execution.ID, models.ExecutionStatusError, nil, err.Error())
		logger.ErrorContext(ctx, "Agent run failed", "error", err)

		return execution.ID, &models.AgentExecutionError{AgentID: agentID, Err: err}
	}

	result := map[string]any{
		"output":      agentResult.Output,
		"status":      agentResult.Status,
		"tokens_used": agentResult.TokensUsed,
	}

	if agentResult.Status == models.AgentStatusError || agentResult.Error != "" {
		e.finishExecution(execution.ID, models.ExecutionStatusError, result, agentResult.Error)
		logger.ErrorContext(ctx, "Agent returned error status", "agent_error", agentResult.Error)

		return execution.ID, &models.AgentExecutionError{AgentID: agentID, Err: fmt.Errorf("%s", agentResult.Error)}
	}

	e.finishExecution(execution.ID, models.ExecutionStatusCompleted, result, "")
	logger.InfoContext(ctx, "Agent run completed", "tokens_used", agentResult.TokensUsed)

	return execution.ID, nil
}

// RunWorkflow runs one workflow synchronously, with the same ledger contract
// as RunAgent.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	agents := make(map[string]models.Agent, len(e.agents))

	for id, agent := range e.agents {
		agents[id] = agent
	}
	e.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, workflowID)
	}

	execution := e.beginExecution(models.ExecutionTypeWorkflow, workflowID, nil)
	logger := e.logger.With("workflow_id", workflowID, "execution_id", execution.ID)

	logger.InfoContext(ctx, "Running workflow")

	workflowResult := e.executor.Execute(ctx, wf, agents, initial, "")

	result := map[string]any{
		"output":         workflowResult.Output,
		"steps_executed": workflowResult.StepsExecuted,
		"execution_time": workflowResult.ExecutionTime.String(),
	}

	if !workflowResult.Success {
		e.finishExecution(execution.ID, models.ExecutionStatusError, result, workflowResult.Error)
		logger.ErrorContext(ctx, "Workflow run failed", "error", workflowResult.Error)

		return execution.ID, &models.WorkflowExecutionError{
			WorkflowID: workflowID,
			Err:        fmt.Errorf("%s", workflowResult.Error),
		}
	}

	e.finishExecution(execution.ID, models.ExecutionStatusCompleted, result, "")
	logger.InfoContext(ctx, "Workflow run completed", "steps_executed", len(workflowResult.StepsExecuted))

	return execution.ID, nil
}

// callAgent routes the agent call through its circuit breaker when one is
// configured.
func (e *Engine) callAgent(ctx context.Context, agent models.Agent, input string, vars map[string]any) (*models.AgentResult, error) {
	if e.breakers == nil {
		return agent.Run(ctx, input, vars)
	}

	var agentResult *models.AgentResult

	cb := e.breakers.GetOrCreate("agent:" + agent.ID())

	err := cb.Call(ctx, func(ctx context.Context) error {
		var runErr error

		agentResult, runErr = agent.Run(ctx, input, vars)

		return runErr
	})
	if err != nil {
		return nil, err
	}

	return agentResult, nil
}

// Execution returns a copy of the execution record with the given ID.
func (e *Engine) Execution(id string) (*models.Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	execution, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrExecutionNotFound, id)
	}

	copied := *execution

	return &copied, nil
}

// ListExecutions returns executions newest-first, optionally filtered by
// entity ID and status, truncated to limit after filtering.
func (e *Engine) ListExecutions(entityID string, status models.ExecutionStatus, limit int) []*models.Execution {
	if limit <= 0 {
		limit = 50
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	executions := make([]*models.Execution, 0, limit)

	for i := len(e.order) - 1; i >= 0 && len(executions) < limit; i-- {
		execution := e.executions[e.order[i]]

		if entityID != "" && execution.EntityID != entityID {
			continue
		}

		if status != "" && execution.Status != status {
			continue
		}

		copied := *execution
		executions = append(executions, &copied)
	}

	return executions
}

// CancelExecution marks a running execution cancelled. It does not interrupt
// an agent call already in progress; only the recorded status changes.
func (e *Engine) CancelExecution(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, ok := e.executions[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrExecutionNotFound, id)
	}

	if execution.Terminal() {
		return fmt.Errorf("execution %s is already %s", id, execution.Status)
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now

	return nil
}

func (e *Engine) beginExecution(executionType models.ExecutionType, entityID string, metadata map[string]any) *models.Execution {
	execution := &models.Execution{
		ID:        "exec-" + uuid.New().String()[:8],
		Type:      executionType,
		EntityID:  entityID,
		Status:    models.ExecutionStatusRunning,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.executions[execution.ID] = execution
	e.order = append(e.order, execution.ID)

	return execution
}

func (e *Engine) finishExecution(id string, status models.ExecutionStatus, result map[string]any, errMessage string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, ok := e.executions[id]
	if !ok || execution.Terminal() {
		return
	}

	now := time.Now().UTC()
	execution.Status = status
	execution.CompletedAt = &now
	execution.Result = result
	execution.Error = errMessage
}
