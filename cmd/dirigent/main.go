package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dirigent-io/dirigent/pkg/cmd"
	"github.com/dirigent-io/dirigent/pkg/engine"
	"github.com/dirigent-io/dirigent/pkg/log"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "dirigent",
		Usage:                 "Run agents and workflows, enqueue jobs, and inspect the queue",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			enqueueCommand(),
			jobsCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "agents-config",
			Usage:   "Path to a JSON file describing HTTP agents",
			Sources: cli.EnvVars("AGENTS_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "workflows-path",
			Usage:   "Directory holding workflow JSON definitions",
			Sources: cli.EnvVars("WORKFLOWS_PATH"),
		},
	}
}

func queueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "queue-url",
		Usage:    "Queue backend URL (postgres://, redis:// or memory://)",
		Required: true,
		Sources:  cli.EnvVars("QUEUE_URL"),
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run an agent or workflow synchronously",
		Commands: []*cli.Command{
			{
				Name:  "agent",
				Usage: "Run a single agent",
				Flags: append(engineFlags(),
					&cli.StringFlag{Name: "id", Usage: "Agent ID", Required: true},
					&cli.StringFlag{Name: "input", Usage: "Input text"},
					&cli.StringFlag{Name: "session-id", Usage: "Session ID"},
					&cli.StringFlag{Name: "context", Usage: "Context variables as JSON"},
				),
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))
					logger := log.WithModule("dirigent")

					eng, err := cmd.NewEngine(ctx, logger,
						command.String("agents-config"), command.String("workflows-path"))
					if err != nil {
						return err
					}

					vars, err := parseJSONMap(command.String("context"))
					if err != nil {
						return err
					}

					executionID, runErr := eng.RunAgent(ctx,
						command.String("id"), command.String("input"), command.String("session-id"), vars)

					return printExecution(eng, executionID, runErr)
				},
			},
			{
				Name:  "workflow",
				Usage: "Run a workflow",
				Flags: append(engineFlags(),
					&cli.StringFlag{Name: "id", Usage: "Workflow ID", Required: true},
					&cli.StringFlag{Name: "context", Usage: "Initial context as JSON"},
				),
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))
					logger := log.WithModule("dirigent")

					eng, err := cmd.NewEngine(ctx, logger,
						command.String("agents-config"), command.String("workflows-path"))
					if err != nil {
						return err
					}

					initial, err := parseJSONMap(command.String("context"))
					if err != nil {
						return err
					}

					executionID, runErr := eng.RunWorkflow(ctx, command.String("id"), initial)

					return printExecution(eng, executionID, runErr)
				},
			},
		},
	}
}

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Enqueue a job for asynchronous execution",
		Flags: []cli.Flag{
			queueFlag(),
			&cli.StringFlag{Name: "type", Usage: "Job type (agent_run or workflow_run)", Required: true},
			&cli.StringFlag{Name: "resource-id", Usage: "Agent or workflow ID", Required: true},
			&cli.StringFlag{Name: "input", Usage: "Job input as JSON"},
			&cli.StringFlag{Name: "tenant-id", Usage: "Tenant ID", Sources: cli.EnvVars("TENANT_ID")},
			&cli.IntFlag{Name: "max-retries", Usage: "Retry attempts after the first failure", Value: 3},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("dirigent")

			q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
			if err != nil {
				return err
			}

			defer closeQueue(ctx, logger, q)

			input, err := parseJSONMap(command.String("input"))
			if err != nil {
				return err
			}

			job := &models.Job{
				Type:       models.JobType(command.String("type")),
				ResourceID: command.String("resource-id"),
				Input:      input,
				TenantID:   command.String("tenant-id"),
				MaxRetries: command.Int("max-retries"),
			}

			err = q.Enqueue(ctx, job)
			if err != nil {
				return err
			}

			return printJSON(job)
		},
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect queued jobs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List jobs, newest first",
				Flags: []cli.Flag{
					queueFlag(),
					&cli.StringFlag{Name: "tenant-id", Usage: "Filter by tenant"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of jobs", Value: 50},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))
					logger := log.WithModule("dirigent")

					q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
					if err != nil {
						return err
					}

					defer closeQueue(ctx, logger, q)

					jobs, err := q.ListJobs(ctx, queue.ListJobsOptions{
						TenantID: command.String("tenant-id"),
						Status:   models.JobStatus(command.String("status")),
						Limit:    command.Int("limit"),
					})
					if err != nil {
						return err
					}

					return printJSON(jobs)
				},
			},
			{
				Name:      "get",
				Usage:     "Show one job by ID",
				ArgsUsage: "<job-id>",
				Flags:     []cli.Flag{queueFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))
					logger := log.WithModule("dirigent")

					jobID := command.Args().First()
					if jobID == "" {
						return fmt.Errorf("job ID argument is required")
					}

					q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
					if err != nil {
						return err
					}

					defer closeQueue(ctx, logger, q)

					job, err := q.Job(ctx, jobID)
					if err != nil {
						return err
					}

					if job == nil {
						return fmt.Errorf("job %s not found", jobID)
					}

					return printJSON(job)
				},
			},
		},
	}
}

func parseJSONMap(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var parsed map[string]any

	err := json.Unmarshal([]byte(raw), &parsed)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	return parsed, nil
}

func printExecution(eng *engine.Engine, executionID string, runErr error) error {
	if executionID != "" {
		execution, err := eng.Execution(executionID)
		if err == nil {
			printErr := printJSON(execution)
			if printErr != nil {
				return printErr
			}
		}
	}

	return runErr
}

func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))

	return nil
}

func closeQueue(ctx context.Context, logger *slog.Logger, q queue.Queue) {
	err := q.Close(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to close queue", "error", err)
	}
}
