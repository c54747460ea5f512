package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dirigent-io/dirigent/pkg/cmd"
	"github.com/dirigent-io/dirigent/pkg/log"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "dirigent-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute queued agent and workflow jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Queue backend URL (postgres://, redis:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL"),
			},
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
			&cli.StringFlag{
				Name:    "job-type",
				Usage:   "Restrict the worker to one job type (agent_run or workflow_run)",
				Sources: cli.EnvVars("JOB_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll the queue when idle",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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
			logger := log.WithModule("dirigent-worker")

			logger.InfoContext(ctx, "Initializing dirigent worker")

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

			eng, err := cmd.NewEngine(ctx, logger,
				command.String("agents-config"), command.String("workflows-path"))
			if err != nil {
				return err
			}

			sink := cmd.NewTelemetrySink(logger, command.String("telemetry"))
			defer func() {
				err := sink.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close telemetry sink", "error", err)
				}
			}()

			w := worker.NewWorker(logger, q, eng, sink, worker.Config{
				PollInterval: command.Duration("poll-interval"),
				JobType:      models.JobType(command.String("job-type")),
			})

			signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w.Start(signalCtx)

			<-signalCtx.Done()
			logger.Info("Shutting down gracefully...")
			w.Stop(context.WithoutCancel(ctx))

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
