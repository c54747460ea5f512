package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return newRedisQueueWithClient(client, nil)
}

func TestRedisQueue_EnqueueAndGet(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	job := &models.Job{
		Type:       models.JobTypeAgentRun,
		ResourceID: "summarizer",
		Input:      map[string]any{"input_text": "hello"},
		TenantID:   "acme",
	}
	require.NoError(t, q.Enqueue(ctx, job))
	require.NotEmpty(t, job.ID)

	stored, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
	assert.Equal(t, "summarizer", stored.ResourceID)
	assert.Equal(t, "hello", stored.Input["input_text"])
}

func TestRedisQueue_JobMissingReturnsNil(t *testing.T) {
	q := newTestRedisQueue(t)

	job, err := q.Job(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_DequeueClaimsOldest(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, q.Enqueue(ctx, &models.Job{
		ID: "newer", Type: models.JobTypeAgentRun, ResourceID: "a", CreatedAt: base,
	}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{
		ID: "older", Type: models.JobTypeAgentRun, ResourceID: "a", CreatedAt: base.Add(-time.Minute),
	}))

	job, err := q.Dequeue(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "older", job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	stored, err := q.Job(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)

	// The claimed job must not be handed out again.
	job, err = q.Dequeue(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "newer", job.ID)

	job, err = q.Dequeue(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_DequeueFiltersByType(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{
		ID: "wf-job", Type: models.JobTypeWorkflowRun, ResourceID: "wf-1",
	}))

	job, err := q.Dequeue(ctx, models.JobTypeAgentRun)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = q.Dequeue(ctx, models.JobTypeWorkflowRun)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "wf-job", job.ID)

	// Claiming through the typed set must also clear the global pending set.
	job, err = q.Dequeue(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_UpdateToTerminalRemovesFromPending(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Type: models.JobTypeAgentRun, ResourceID: "a"}
	require.NoError(t, q.Enqueue(ctx, job))

	job.Status = models.JobStatusCompleted
	require.NoError(t, q.UpdateJob(ctx, job))

	got, err := q.Dequeue(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := q.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}

func TestRedisQueue_ListJobsFiltersAndSorts(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, spec := range []struct {
		id     string
		tenant string
	}{
		{"j1", "acme"},
		{"j2", "globex"},
		{"j3", "acme"},
	} {
		require.NoError(t, q.Enqueue(ctx, &models.Job{
			ID:         spec.id,
			Type:       models.JobTypeAgentRun,
			ResourceID: "a",
			TenantID:   spec.tenant,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := q.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "j3", all[0].ID, "newest first")

	acme, err := q.ListJobs(ctx, ListJobsOptions{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	limited, err := q.ListJobs(ctx, ListJobsOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "j3", limited[0].ID)
}

func TestRedisQueue_HealthCheck(t *testing.T) {
	q := newTestRedisQueue(t)

	assert.NoError(t, q.HealthCheck(context.Background()))
}
