// Package worker polls a job queue and executes agent and workflow runs
// through the engine, writing results back to the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/queue"
	"github.com/dirigent-io/dirigent/pkg/telemetry"
	"github.com/google/uuid"
)

// Runner is the slice of the engine the worker needs.
type Runner interface {
	RunAgent(ctx context.Context, agentID, input, sessionID string, vars map[string]any) (string, error)
	RunWorkflow(ctx context.Context, workflowID string, initial map[string]any) (string, error)
	Execution(id string) (*models.Execution, error)
}

// Config tunes worker behavior. Zero values fall back to defaults.
type Config struct {
	// PollInterval is how often the queue is checked when idle.
	PollInterval time.Duration
	// JobType restricts the worker to one job type. Empty means any.
	JobType models.JobType
	// RetryBackoff is the base delay between in-process retry attempts,
	// doubled per attempt.
	RetryBackoff time.Duration
}

const (
	defaultPollInterval = time.Second
	defaultRetryBackoff = 500 * time.Millisecond
)

// Worker drains jobs from the queue. A job is claimed by Dequeue, executed,
// and finished with exactly one terminal update. Failed attempts are retried
// in place while the job stays running; the job never goes back to queued.
type Worker struct {
	id           string
	logger       *slog.Logger
	queue        queue.Queue
	runner       Runner
	sink         telemetry.Sink
	pollInterval time.Duration
	jobType      models.JobType
	retryBackoff time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(logger *slog.Logger, q queue.Queue, runner Runner, sink telemetry.Sink, cfg Config) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	if sink == nil {
		sink = telemetry.NoopSink{}
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	id := "worker-" + uuid.New().String()[:8]

	return &Worker{
		id:           id,
		logger:       logger.With("module", "worker", "worker_id", id),
		queue:        q,
		runner:       runner,
		sink:         sink,
		pollInterval: cfg.PollInterval,
		jobType:      cfg.JobType,
		retryBackoff: cfg.RetryBackoff,
		stopCh:       make(chan struct{}),
	}
}

func (w *Worker) ID() string { return w.id }

// Start launches the poll loop. It returns immediately; use Stop to shut
// down and wait for in-flight work.
func (w *Worker) Start(ctx context.Context) {
	w.logger.InfoContext(ctx, "Starting worker", "poll_interval", w.pollInterval)

	w.wg.Add(1)

	go w.pollLoop(ctx)
}

// Stop signals the poll loop to exit and waits for the current job to finish.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.InfoContext(ctx, "Stopping worker")
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce processes queued jobs until the queue is empty, so a burst does
// not wait one poll interval per job.
func (w *Worker) drainOnce(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.jobType)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to dequeue job", "error", err)

			return
		}

		if job == nil {
			return
		}

		w.ProcessJob(ctx, job)
	}
}

// ProcessJob runs one claimed job to a terminal state.
func (w *Worker) ProcessJob(ctx context.Context, job *models.Job) {
	logger := w.logger.With("job_id", job.ID, "job_type", job.Type)
	logger.InfoContext(ctx, "Processing job", "resource_id", job.ResourceID)

	w.sink.Record(ctx, telemetry.NewEvent("job.started", map[string]any{
		"job_id":      job.ID,
		"job_type":    string(job.Type),
		"resource_id": job.ResourceID,
		"tenant_id":   job.TenantID,
		"user_id":     job.UserID,
		"worker_id":   w.id,
	}))

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job handler panicked", "panic", r)
			w.finishJob(ctx, job, nil, fmt.Errorf("job handler panicked: %v", r))
		}
	}()

	for {
		result, err := w.runJob(ctx, job)
		if err == nil {
			w.finishJob(ctx, job, result, nil)

			return
		}

		if !retryable(err) || job.RetryCount >= job.MaxRetries {
			w.finishJob(ctx, job, nil, err)

			return
		}

		job.RetryCount++
		logger.WarnContext(ctx, "Job attempt failed, retrying",
			"error", err, "retry_count", job.RetryCount, "max_retries", job.MaxRetries)

		updateErr := w.queue.UpdateJob(ctx, job)
		if updateErr != nil {
			logger.ErrorContext(ctx, "Failed to persist retry count", "error", updateErr)
		}

		if !w.sleep(ctx, w.retryBackoff*time.Duration(1<<(job.RetryCount-1))) {
			w.finishJob(ctx, job, nil, err)

			return
		}
	}
}

// errUnknownJobType is terminal; retrying cannot fix it.
type unknownJobTypeError struct {
	jobType models.JobType
}

func (e *unknownJobTypeError) Error() string {
	return fmt.Sprintf("unknown job type %q", e.jobType)
}

func retryable(err error) bool {
	_, unknown := err.(*unknownJobTypeError)

	return !unknown
}

func (w *Worker) runJob(ctx context.Context, job *models.Job) (map[string]any, error) {
	switch job.Type {
	case models.JobTypeAgentRun:
		return w.runAgentJob(ctx, job)
	case models.JobTypeWorkflowRun:
		return w.runWorkflowJob(ctx, job)
	default:
		return nil, &unknownJobTypeError{jobType: job.Type}
	}
}

func (w *Worker) runAgentJob(ctx context.Context, job *models.Job) (map[string]any, error) {
	input, _ := job.Input["input_text"].(string)
	sessionID, _ := job.Input["session_id"].(string)
	vars, _ := job.Input["context"].(map[string]any)

	executionID, err := w.runner.RunAgent(ctx, job.ResourceID, input, sessionID, vars)
	if err != nil {
		return nil, err
	}

	return w.executionResult(executionID), nil
}

func (w *Worker) runWorkflowJob(ctx context.Context, job *models.Job) (map[string]any, error) {
	initial, _ := job.Input["context"].(map[string]any)

	executionID, err := w.runner.RunWorkflow(ctx, job.ResourceID, initial)
	if err != nil {
		return nil, err
	}

	return w.executionResult(executionID), nil
}

func (w *Worker) executionResult(executionID string) map[string]any {
	result := map[string]any{"execution_id": executionID}

	execution, err := w.runner.Execution(executionID)
	if err == nil && execution != nil {
		for key, value := range execution.Result {
			result[key] = value
		}
	}

	return result
}

// finishJob writes the single terminal update for a job.
func (w *Worker) finishJob(ctx context.Context, job *models.Job, result map[string]any, runErr error) {
	now := time.Now().UTC()
	job.CompletedAt = &now

	eventName := "job.completed"

	if runErr != nil {
		job.Status = models.JobStatusFailed
		job.Error = runErr.Error()
		eventName = "job.failed"
	} else {
		job.Status = models.JobStatusCompleted
		job.Result = result
	}

	err := w.queue.UpdateJob(ctx, job)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to persist job result", "job_id", job.ID, "error", err)
	}

	fields := map[string]any{
		"job_id":      job.ID,
		"job_type":    string(job.Type),
		"resource_id": job.ResourceID,
		"tenant_id":   job.TenantID,
		"user_id":     job.UserID,
		"worker_id":   w.id,
		"retry_count": job.RetryCount,
		"error":       job.Error,
	}
	if job.StartedAt != nil {
		fields["duration_ms"] = now.Sub(*job.StartedAt).Milliseconds()
	}

	w.sink.Record(ctx, telemetry.NewEvent(eventName, fields))

	w.logger.InfoContext(ctx, "Job finished", "job_id", job.ID, "status", job.Status)
}

// sleep waits for the given duration unless the worker is stopping. It
// reports whether the full wait elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
