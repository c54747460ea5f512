package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dirigent-io/dirigent/pkg/models"
	_ "github.com/lib/pq" // postgres driver
)

const jobColumns = `
	id
  , type
  , resource_id
  , input
  , tenant_id
  , user_id
  , project_id
  , status
  , created_at
  , started_at
  , completed_at
  , result
  , error
  , retry_count
  , max_retries
  , metadata
`

// PostgresQueue is the primary durable queue backend. Dequeue relies on
// FOR UPDATE SKIP LOCKED so concurrent workers never pick up the same job.
type PostgresQueue struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresQueue(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresQueue, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	q := &PostgresQueue{
		db:     database,
		logger: logger.With("module", "postgres_queue"),
	}

	err = newMigrationManager(q.logger, database, migrations()).runMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return q, nil
}

// newPostgresQueueWithDB wires an existing connection, used by tests.
func newPostgresQueueWithDB(db *sql.DB, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresQueue{db: db, logger: logger.With("module", "postgres_queue")}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job *models.Job) error {
	err := prepare(job)
	if err != nil {
		return err
	}

	return q.upsert(ctx, job)
}

func (q *PostgresQueue) UpdateJob(ctx context.Context, job *models.Job) error {
	return q.upsert(ctx, job)
}

func (q *PostgresQueue) upsert(ctx context.Context, job *models.Job) error {
	inputJSON, resultJSON, metadataJSON, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, type, resource_id, input, tenant_id, user_id, project_id,
			status, created_at, started_at, completed_at, result, error, retry_count, max_retries, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			resource_id = EXCLUDED.resource_id,
			input = EXCLUDED.input,
			tenant_id = EXCLUDED.tenant_id,
			user_id = EXCLUDED.user_id,
			project_id = EXCLUDED.project_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			metadata = EXCLUDED.metadata
	`

	_, err = q.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.ResourceID,
		inputJSON,
		nullString(job.TenantID),
		nullString(job.UserID),
		nullString(job.ProjectID),
		job.Status,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		resultJSON,
		nullString(job.Error),
		job.RetryCount,
		job.MaxRetries,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context, jobType models.JobType) (*models.Job, error) {
	query := `
		UPDATE jobs SET status = 'running', started_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	args := []any{}

	if jobType != "" {
		query = `
		UPDATE jobs SET status = 'running', started_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued' AND type = $1
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

		args = append(args, jobType)
	}

	job, err := scanJob(q.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	return job, nil
}

func (q *PostgresQueue) Job(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	return job, nil
}

func (q *PostgresQueue) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}

	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			q.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (q *PostgresQueue) HealthCheck(ctx context.Context) error {
	err := q.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (q *PostgresQueue) Close(ctx context.Context) error {
	if q.db != nil {
		err := q.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                         models.Job
		inputJSON, resultJSON       []byte
		metadataJSON                []byte
		tenantID, userID, projectID sql.NullString
		errorMessage                sql.NullString
		startedAt, completedAt      sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.ResourceID,
		&inputJSON,
		&tenantID,
		&userID,
		&projectID,
		&job.Status,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&resultJSON,
		&errorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	job.TenantID = tenantID.String
	job.UserID = userID.String
	job.ProjectID = projectID.String
	job.Error = errorMessage.String

	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	err = unmarshalJobJSON(&job, inputJSON, resultJSON, metadataJSON)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func marshalJobJSON(job *models.Job) (input, result, metadata []byte, err error) {
	input, err = json.Marshal(job.Input)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal job input: %w", err)
	}

	result, err = json.Marshal(job.Result)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal job result: %w", err)
	}

	metadata, err = json.Marshal(job.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal job metadata: %w", err)
	}

	return input, result, metadata, nil
}

func unmarshalJobJSON(job *models.Job, input, result, metadata []byte) error {
	if len(input) > 0 {
		err := json.Unmarshal(input, &job.Input)
		if err != nil {
			return fmt.Errorf("failed to unmarshal job input: %w", err)
		}
	}

	if len(result) > 0 {
		err := json.Unmarshal(result, &job.Result)
		if err != nil {
			return fmt.Errorf("failed to unmarshal job result: %w", err)
		}
	}

	if len(metadata) > 0 {
		err := json.Unmarshal(metadata, &job.Metadata)
		if err != nil {
			return fmt.Errorf("failed to unmarshal job metadata: %w", err)
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
