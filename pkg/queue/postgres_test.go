package queue

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobTestColumns = []string{
	"id", "type", "resource_id", "input", "tenant_id", "user_id", "project_id",
	"status", "created_at", "started_at", "completed_at", "result", "error",
	"retry_count", "max_retries", "metadata",
}

func newTestPostgresQueue(t *testing.T) (*PostgresQueue, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return newPostgresQueueWithDB(db, nil), mock
}

func TestPostgresQueue_EnqueueUpserts(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.Job{Type: models.JobTypeAgentRun, ResourceID: "summarizer"}

	require.NoError(t, q.Enqueue(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EnqueueRejectsInvalidJob(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	err := q.Enqueue(context.Background(), &models.Job{Type: "mystery", ResourceID: "x"})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "invalid job must not reach the database")
}

func TestPostgresQueue_DequeueClaimsJob(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	created := time.Now().UTC().Add(-time.Minute)
	started := time.Now().UTC()

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("agent_run").
		WillReturnRows(sqlmock.NewRows(jobTestColumns).AddRow(
			"job-1", "agent_run", "summarizer", []byte(`{"input_text":"hi"}`),
			"acme", nil, nil, "running", created, started, nil, nil, nil, 0, 3, nil,
		))

	job, err := q.Dequeue(context.Background(), models.JobTypeAgentRun)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, "acme", job.TenantID)
	assert.Equal(t, "hi", job.Input["input_text"])
	require.NotNil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_DequeueEmptyReturnsNil(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnError(sql.ErrNoRows)

	job, err := q.Dequeue(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_JobMissingReturnsNil(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	mock.ExpectQuery("SELECT").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	job, err := q.Job(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ListJobsAppliesFilters(t *testing.T) {
	q, mock := newTestPostgresQueue(t)

	created := time.Now().UTC()

	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs("acme", "failed", 10).
		WillReturnRows(sqlmock.NewRows(jobTestColumns).AddRow(
			"job-2", "workflow_run", "wf-1", nil,
			"acme", nil, nil, "failed", created, nil, created, nil, "step exploded", 3, 3, nil,
		))

	jobs, err := q.ListJobs(context.Background(), ListJobsOptions{
		TenantID: "acme",
		Status:   models.JobStatusFailed,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Equal(t, "step exploded", jobs[0].Error)
	require.NotNil(t, jobs[0].CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_MigrationsRunOnFreshSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS queue_schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM queue_schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO queue_schema_migrations").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	q := newPostgresQueueWithDB(db, nil)

	require.NoError(t, newMigrationManager(q.logger, db, migrations()).runMigrations(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
