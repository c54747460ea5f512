// Package workflow executes workflow definitions: ordered steps dispatching
// to agents, with conditional skips, branch redirection, per-step timeouts
// and bounded retries.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Result is the outcome of one workflow run. StepsExecuted lists the IDs of
// steps that actually ran, in execution order; steps skipped by a false
// condition are excluded. On failure, StepsExecuted still covers everything
// completed before the failing step.
type Result struct {
	Success       bool           `json:"success"`
	Output        map[string]any `json:"output,omitempty"`
	StepsExecuted []string       `json:"steps_executed"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Error         string         `json:"error,omitempty"`
}

const defaultRetryBackoff = 250 * time.Millisecond

type Executor struct {
	logger       *slog.Logger
	conditions   *ConditionEvaluator
	retryBackoff time.Duration
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		logger:       logger.With("module", "workflow_executor"),
		conditions:   NewConditionEvaluator(),
		retryBackoff: defaultRetryBackoff,
	}
}

// Execute runs the workflow against the injected agent registry, starting at
// startStepID when given, else at the first step.
//
// Steps run strictly sequentially. A step whose condition evaluates false is
// skipped; condition evaluation failures count as false. After a step
// completes, branch conditions are consulted (sorted step-ID order) and the
// first match redirects execution to that step; a budget of 2*len(steps)
// executed steps guards against branch loops.
func (e *Executor) Execute(ctx context.Context, wf *models.Workflow, agents map[string]models.Agent, initial map[string]any, startStepID string) *Result {
	started := time.Now()
	logger := e.logger.With("workflow_id", wf.ID)

	vars := make(map[string]any, len(wf.Variables)+len(initial))
	for k, v := range wf.Variables {
		vars[k] = v
	}

	for k, v := range initial {
		vars[k] = v
	}

	result := &Result{StepsExecuted: make([]string, 0, len(wf.Steps))}

	idx := 0

	if startStepID != "" {
		startIdx, found := stepIndex(wf, startStepID)
		if !found {
			return e.fail(result, started, vars, fmt.Sprintf("start step %s not found in workflow %s", startStepID, wf.ID))
		}

		idx = startIdx
	}

	budget := 2 * len(wf.Steps)
	executed := 0

	for idx < len(wf.Steps) {
		step := wf.Steps[idx]
		stepLogger := logger.With("step_id", step.ID, "agent_id", step.AgentID)

		if step.Condition != nil {
			shouldRun, err := e.conditions.Evaluate(step.Condition.Expression, vars)
			if err != nil {
				stepLogger.DebugContext(ctx, "Step condition evaluation failed, treating as false", "error", err)

				shouldRun = false
			}

			if !shouldRun {
				stepLogger.InfoContext(ctx, "Step condition is false, skipping")

				idx++

				continue
			}
		}

		agent, ok := agents[step.AgentID]
		if !ok {
			stepLogger.ErrorContext(ctx, "Step names an unregistered agent")

			return e.fail(result, started, vars,
				fmt.Sprintf("workflow %s failed at step %s: agent not found: %s", wf.ID, step.ID, step.AgentID))
		}

		executed++
		if executed > budget {
			return e.fail(result, started, vars,
				fmt.Sprintf("workflow %s aborted: branch loop detected after %d steps", wf.ID, executed-1))
		}

		input, stepVars := buildStepInput(step, vars)

		agentResult, err := e.runStepAgent(ctx, stepLogger, agent, step, input, stepVars)
		if err != nil {
			stepLogger.ErrorContext(ctx, "Step agent call failed", "error", err)

			return e.fail(result, started, vars,
				fmt.Sprintf("workflow %s failed at step %s: %v", wf.ID, step.ID, err))
		}

		if agentResult.Status == models.AgentStatusError || agentResult.Error != "" {
			stepLogger.ErrorContext(ctx, "Step agent returned error status", "agent_error", agentResult.Error)

			return e.fail(result, started, vars,
				fmt.Sprintf("workflow %s failed at step %s: agent %s: %s", wf.ID, step.ID, step.AgentID, agentResult.Error))
		}

		writeStepOutput(step, agentResult, vars)
		result.StepsExecuted = append(result.StepsExecuted, step.ID)

		stepLogger.InfoContext(ctx, "Step completed", "tokens_used", agentResult.TokensUsed)

		idx = e.nextStepIndex(ctx, wf, vars, idx)
	}

	result.Success = true
	result.Output = vars
	result.ExecutionTime = time.Since(started)

	logger.InfoContext(ctx, "Workflow completed",
		"steps_executed", len(result.StepsExecuted),
		"execution_time", result.ExecutionTime)

	return result
}

// runStepAgent invokes the agent with the step's timeout, retrying raised
// errors and error-status results up to RetryAttempts times with exponential
// backoff.
func (e *Executor) runStepAgent(ctx context.Context, logger *slog.Logger, agent models.Agent, step *models.WorkflowStep, input string, stepVars map[string]any) (*models.AgentResult, error) {
	attempts := step.RetryAttempts + 1

	var (
		agentResult *models.AgentResult
		err         error
	)

	for attempt := range attempts {
		if attempt > 0 {
			backoff := e.retryBackoff * time.Duration(1<<(attempt-1))
			logger.InfoContext(ctx, "Retrying step", "attempt", attempt, "backoff", backoff)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		agentResult, err = e.callAgent(ctx, agent, step, input, stepVars)
		if err == nil && agentResult.Status != models.AgentStatusError && agentResult.Error == "" {
			return agentResult, nil
		}
	}

	return agentResult, err
}

func (e *Executor) callAgent(ctx context.Context, agent models.Agent, step *models.WorkflowStep, input string, stepVars map[string]any) (*models.AgentResult, error) {
	callCtx := ctx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	agentResult, err := agent.Run(callCtx, input, stepVars)
	if err != nil {
		return nil, err
	}

	if agentResult == nil {
		return nil, fmt.Errorf("agent %s returned no result", agent.ID())
	}

	return agentResult, nil
}

// buildStepInput resolves the step's input mapping against the context. The
// "input" destination key becomes the agent input text; other destinations
// are overlaid on a copy of the context as the agent's variables. Steps with
// no mapping receive the context's default input value.
func buildStepInput(step *models.WorkflowStep, vars map[string]any) (string, map[string]any) {
	stepVars := make(map[string]any, len(vars)+len(step.InputMapping))
	for k, v := range vars {
		stepVars[k] = v
	}

	if len(step.InputMapping) == 0 {
		return stringify(defaultInput(vars)), stepVars
	}

	input := ""

	for dst, src := range step.InputMapping {
		value := resolveSource(vars, src)
		if dst == "input" {
			input = stringify(value)

			continue
		}

		stepVars[dst] = value
	}

	if input == "" {
		input = stringify(defaultInput(vars))
	}

	return input, stepVars
}

// writeStepOutput records the agent result in the context: under "output",
// under the step's output mapping, and namespaced under steps.<id>.
func writeStepOutput(step *models.WorkflowStep, agentResult *models.AgentResult, vars map[string]any) {
	vars["output"] = agentResult.Output

	resultVars := map[string]any{
		"output":      agentResult.Output,
		"status":      agentResult.Status,
		"tokens_used": agentResult.TokensUsed,
	}

	for dst, src := range step.OutputMapping {
		vars[dst] = resolveSource(resultVars, src)
	}

	stepsNode, ok := vars["steps"].(map[string]any)
	if !ok {
		stepsNode = make(map[string]any)
		vars["steps"] = stepsNode
	}

	stepsNode[step.ID] = resultVars
}

// nextStepIndex picks the step after idx: the first branch entry (sorted
// step-ID order) whose condition holds redirects execution, otherwise the
// workflow continues in list order.
func (e *Executor) nextStepIndex(ctx context.Context, wf *models.Workflow, vars map[string]any, idx int) int {
	if len(wf.Branches) == 0 {
		return idx + 1
	}

	targets := make([]string, 0, len(wf.Branches))
	for stepID := range wf.Branches {
		targets = append(targets, stepID)
	}

	sort.Strings(targets)

	for _, stepID := range targets {
		condition := wf.Branches[stepID]
		if condition == nil {
			continue
		}

		matched, err := e.conditions.Evaluate(condition.Expression, vars)
		if err != nil {
			e.logger.DebugContext(ctx, "Branch condition evaluation failed, branch not taken",
				"workflow_id", wf.ID, "target_step_id", stepID, "error", err)

			continue
		}

		if matched {
			if target, found := stepIndex(wf, stepID); found {
				return target
			}
		}
	}

	return idx + 1
}

func (e *Executor) fail(result *Result, started time.Time, vars map[string]any, message string) *Result {
	result.Success = false
	result.Output = vars
	result.Error = message
	result.ExecutionTime = time.Since(started)

	return result
}

func stepIndex(wf *models.Workflow, stepID string) (int, bool) {
	for i, step := range wf.Steps {
		if step.ID == stepID {
			return i, true
		}
	}

	return 0, false
}
