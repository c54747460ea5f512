package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	httpagent "github.com/dirigent-io/dirigent/pkg/agents/http"
	"github.com/dirigent-io/dirigent/pkg/breaker"
	"github.com/dirigent-io/dirigent/pkg/engine"
	"github.com/dirigent-io/dirigent/pkg/store/file"
)

// NewEngine builds an engine with circuit breakers and loads agents and
// workflows from disk. Both paths are optional; an empty path loads nothing.
func NewEngine(ctx context.Context, logger *slog.Logger, agentsConfigPath, workflowsPath string) (*engine.Engine, error) {
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), logger)
	eng := engine.NewEngine(logger, breakers)

	if agentsConfigPath != "" {
		err := registerAgents(logger, eng, agentsConfigPath)
		if err != nil {
			return nil, err
		}
	}

	if workflowsPath != "" {
		err := registerWorkflows(ctx, eng, workflowsPath)
		if err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// registerAgents loads a JSON array of agent config maps and registers an
// HTTP agent per entry.
func registerAgents(logger *slog.Logger, eng *engine.Engine, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agents config %s: %w", path, err)
	}

	var configs []map[string]any

	err = json.Unmarshal(body, &configs)
	if err != nil {
		return fmt.Errorf("failed to parse agents config %s: %w", path, err)
	}

	for _, config := range configs {
		agent, err := httpagent.NewAgent(logger, config)
		if err != nil {
			return fmt.Errorf("failed to build agent: %w", err)
		}

		eng.RegisterAgent(agent)
	}

	return nil
}

func registerWorkflows(ctx context.Context, eng *engine.Engine, path string) error {
	store := file.NewStore(path)

	workflows, err := store.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows from %s: %w", path, err)
	}

	for _, workflow := range workflows {
		err = eng.RegisterWorkflow(workflow)
		if err != nil {
			return fmt.Errorf("failed to register workflow %s: %w", workflow.ID, err)
		}
	}

	return nil
}
