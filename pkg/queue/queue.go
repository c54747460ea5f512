// Package queue provides durable storage for deferred agent and workflow
// runs, drained by worker processes.
package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ListJobsOptions filters and bounds ListJobs results.
type ListJobsOptions struct {
	TenantID string
	Status   models.JobStatus
	Limit    int
}

// Queue is the contract any job storage backend must satisfy.
//
// Enqueue is an idempotent upsert keyed by job ID. Dequeue selects the
// oldest queued job (FIFO by creation time), optionally filtered by type,
// atomically marks it running with StartedAt set, and returns it; it returns
// (nil, nil) when no eligible job exists. Backends shared by multiple worker
// processes must make Dequeue a single atomic read-modify-write, or two
// workers can pick up the same job.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Dequeue(ctx context.Context, jobType models.JobType) (*models.Job, error)
	Job(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

const defaultListLimit = 50

var validate = validator.New()

// prepare fills enqueue defaults and validates the job.
func prepare(job *models.Job) error {
	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	err := validate.Struct(job)
	if err != nil {
		return fmt.Errorf("invalid job %s: %w", job.ID, err)
	}

	return nil
}

func sortJobsNewestFirst(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
