package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dirigent-io/dirigent/pkg/cmd"
	"github.com/dirigent-io/dirigent/pkg/log"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/queue"
	"github.com/dirigent-io/dirigent/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

// scheduleConfig is one entry of the schedules file.
type scheduleConfig struct {
	Type       string         `json:"type"`
	ResourceID string         `json:"resource_id"`
	Spec       string         `json:"spec"`
	InputText  string         `json:"input_text,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	MaxRetries int            `json:"max_retries,omitempty"`
}

func main() {
	command := &cli.Command{
		Name:                  "dirigent-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Enqueue agent and workflow jobs on recurring schedules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Queue backend URL (postgres://, redis:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:     "schedules-config",
				Usage:    "Path to a JSON file listing schedules",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULES_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "telemetry",
				Usage:   "Telemetry sink (channel or none)",
				Value:   "none",
				Sources: cli.EnvVars("TELEMETRY_SINK"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("dirigent-scheduler")

			logger.InfoContext(ctx, "Initializing dirigent scheduler")

			q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := q.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			sink := cmd.NewTelemetrySink(logger, command.String("telemetry"))
			defer func() {
				err := sink.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close telemetry sink", "error", err)
				}
			}()

			s := scheduler.NewScheduler(logger, sink, nil)

			err = registerSchedules(s, q, command.String("schedules-config"))
			if err != nil {
				return err
			}

			signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s.Start(signalCtx)

			<-signalCtx.Done()
			logger.Info("Shutting down gracefully...")
			s.Stop(context.WithoutCancel(ctx))

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// registerSchedules wires each configured schedule to a callback that
// enqueues the matching job type.
func registerSchedules(s *scheduler.Scheduler, q queue.Queue, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schedules config %s: %w", path, err)
	}

	var configs []scheduleConfig

	err = json.Unmarshal(body, &configs)
	if err != nil {
		return fmt.Errorf("failed to parse schedules config %s: %w", path, err)
	}

	for _, config := range configs {
		callback := enqueueCallback(q, jobTypeFor(config.Type), config.MaxRetries)

		switch config.Type {
		case "agent":
			_, err = s.ScheduleAgent(config.ResourceID, config.InputText, config.Spec, callback)
		case "workflow":
			_, err = s.ScheduleWorkflow(config.ResourceID, config.Context, config.Spec, callback)
		default:
			err = fmt.Errorf("unknown schedule type %q", config.Type)
		}

		if err != nil {
			return fmt.Errorf("failed to register schedule for %s: %w", config.ResourceID, err)
		}
	}

	return nil
}

func jobTypeFor(scheduleType string) models.JobType {
	if scheduleType == "workflow" {
		return models.JobTypeWorkflowRun
	}

	return models.JobTypeAgentRun
}

func enqueueCallback(q queue.Queue, jobType models.JobType, maxRetries int) scheduler.Callback {
	return func(ctx context.Context, resourceID string, payload map[string]any) error {
		return q.Enqueue(ctx, &models.Job{
			Type:       jobType,
			ResourceID: resourceID,
			Input:      payload,
			MaxRetries: maxRetries,
		})
	}
}
