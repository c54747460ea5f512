package queue

import (
	"context"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// MemoryQueue keeps jobs in a process-local map. It exists for tests and
// local development; it is not multi-process safe and loses all state on
// restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*models.Job)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.Job) error {
	err := prepare(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.ID] = cloneJob(job)

	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, jobType models.JobType) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest *models.Job

	for _, job := range q.jobs {
		if job.Status != models.JobStatusQueued {
			continue
		}

		if jobType != "" && job.Type != jobType {
			continue
		}

		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}

	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.Status = models.JobStatusRunning
	oldest.StartedAt = &now

	return cloneJob(oldest), nil
}

func (q *MemoryQueue) Job(ctx context.Context, id string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}

	return cloneJob(job), nil
}

func (q *MemoryQueue) UpdateJob(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.ID] = cloneJob(job)

	return nil
}

func (q *MemoryQueue) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	matched := make([]*models.Job, 0, len(q.jobs))

	for _, job := range q.jobs {
		if opts.TenantID != "" && job.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != "" && job.Status != opts.Status {
			continue
		}

		matched = append(matched, cloneJob(job))
	}

	sortJobsNewestFirst(matched)

	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

func (q *MemoryQueue) HealthCheck(ctx context.Context) error { return nil }

func (q *MemoryQueue) Close(ctx context.Context) error { return nil }

func cloneJob(job *models.Job) *models.Job {
	copied := *job

	return &copied
}
