package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu          sync.Mutex
	agentCalls  int
	wfCalls     int
	failFirst   int
	err         error
	panics      bool
	lastInput   string
	lastSession string
	lastVars    map[string]any
}

func (r *stubRunner) RunAgent(ctx context.Context, agentID, input, sessionID string, vars map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agentCalls++
	r.lastInput = input
	r.lastSession = sessionID
	r.lastVars = vars

	if r.panics {
		panic("agent exploded")
	}

	if r.agentCalls <= r.failFirst {
		return "exec-fail", r.failErr()
	}

	return "exec-ok", nil
}

func (r *stubRunner) RunWorkflow(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wfCalls++
	r.lastVars = initial

	if r.wfCalls <= r.failFirst {
		return "exec-fail", r.failErr()
	}

	return "exec-ok", nil
}

func (r *stubRunner) Execution(id string) (*models.Execution, error) {
	return &models.Execution{ID: id, Result: map[string]any{"output": "done"}}, nil
}

func (r *stubRunner) failErr() error {
	if r.err != nil {
		return r.err
	}

	return errors.New("transient failure")
}

type recordingQueue struct {
	queue.Queue

	mu              sync.Mutex
	terminalUpdates int
}

func (q *recordingQueue) UpdateJob(ctx context.Context, job *models.Job) error {
	q.mu.Lock()

	if job.Terminal() {
		q.terminalUpdates++
	}

	q.mu.Unlock()

	return q.Queue.UpdateJob(ctx, job)
}

func newTestWorker(q queue.Queue, runner Runner) *Worker {
	return NewWorker(nil, q, runner, nil, Config{
		PollInterval: 5 * time.Millisecond,
		RetryBackoff: time.Millisecond,
	})
}

func claim(t *testing.T, q queue.Queue, job *models.Job) *models.Job {
	t.Helper()

	require.NoError(t, q.Enqueue(context.Background(), job))

	claimed, err := q.Dequeue(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	return claimed
}

func TestProcessJob_AgentRunCompletes(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-1",
		Type:       models.JobTypeAgentRun,
		ResourceID: "summarizer",
		Input: map[string]any{
			"input_text": "long document",
			"session_id": "sess-9",
			"context":    map[string]any{"tone": "formal"},
		},
	})

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, "exec-ok", stored.Result["execution_id"])
	assert.Equal(t, "done", stored.Result["output"])
	require.NotNil(t, stored.CompletedAt)

	assert.Equal(t, "long document", runner.lastInput)
	assert.Equal(t, "sess-9", runner.lastSession)
	assert.Equal(t, "formal", runner.lastVars["tone"])
}

func TestProcessJob_WorkflowRunCompletes(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-wf",
		Type:       models.JobTypeWorkflowRun,
		ResourceID: "wf-1",
		Input:      map[string]any{"context": map[string]any{"input": "start"}},
	})

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-wf")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, runner.wfCalls)
	assert.Equal(t, "start", runner.lastVars["input"])
}

func TestProcessJob_UnknownTypeFailsWithoutRetry(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-odd",
		Type:       models.JobTypeAgentRun,
		ResourceID: "x",
		MaxRetries: 5,
	})
	job.Type = "mystery"

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-odd")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "unknown job type")
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, 0, runner.agentCalls)
}

func TestProcessJob_RetriesThenSucceeds(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{failFirst: 2}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-retry",
		Type:       models.JobTypeAgentRun,
		ResourceID: "flaky",
		MaxRetries: 3,
	})

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-retry")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, 3, runner.agentCalls)
}

func TestProcessJob_RetriesExhaustedFails(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{failFirst: 10, err: errors.New("provider down")}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-doomed",
		Type:       models.JobTypeAgentRun,
		ResourceID: "flaky",
		MaxRetries: 2,
	})

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-doomed")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Contains(t, stored.Error, "provider down")
	assert.Equal(t, 3, runner.agentCalls, "initial attempt plus two retries")
}

func TestProcessJob_ExactlyOneTerminalUpdate(t *testing.T) {
	rq := &recordingQueue{Queue: queue.NewMemoryQueue()}
	runner := &stubRunner{failFirst: 1}
	w := newTestWorker(rq, runner)

	job := claim(t, rq, &models.Job{
		ID:         "job-once",
		Type:       models.JobTypeAgentRun,
		ResourceID: "flaky",
		MaxRetries: 3,
	})

	w.ProcessJob(context.Background(), job)

	assert.Equal(t, 1, rq.terminalUpdates)
}

func TestProcessJob_PanicMarksJobFailed(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{panics: true}
	w := newTestWorker(q, runner)

	job := claim(t, q, &models.Job{
		ID:         "job-panic",
		Type:       models.JobTypeAgentRun,
		ResourceID: "boom",
	})

	w.ProcessJob(context.Background(), job)

	stored, err := q.Job(context.Background(), "job-panic")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "panicked")
}

func TestWorker_StartDrainsQueue(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &stubRunner{}
	w := newTestWorker(q, runner)

	require.NoError(t, q.Enqueue(context.Background(), &models.Job{
		ID:         "job-loop",
		Type:       models.JobTypeAgentRun,
		ResourceID: "summarizer",
	}))

	w.Start(context.Background())
	defer w.Stop(context.Background())

	require.Eventually(t, func() bool {
		stored, err := q.Job(context.Background(), "job-loop")

		return err == nil && stored != nil && stored.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
