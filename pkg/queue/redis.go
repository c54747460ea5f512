package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisJobKeyPrefix  = "dirigent:jobs:"
	redisPendingKey    = "dirigent:pending"
	redisJobsIndexKey  = "dirigent:jobs_index"
	redisListFetchSize = 512
)

// redisDequeueScript atomically claims the oldest pending job. It pops the
// job ID from the pending zset, marks the stored job running with the given
// start timestamp, and removes the ID from both the global and the per-type
// pending sets so no other worker can claim it.
var redisDequeueScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end

local id = popped[1]
local jobKey = ARGV[2] .. id
local raw = redis.call('GET', jobKey)
if not raw then
	return false
end

local job = cjson.decode(raw)
redis.call('ZREM', ARGV[3], id)
redis.call('ZREM', ARGV[3] .. ':' .. job['type'], id)

job['status'] = 'running'
job['started_at'] = ARGV[1]

local encoded = cjson.encode(job)
redis.call('SET', jobKey, encoded)

return encoded
`)

// RedisQueue stores jobs as JSON values with per-type pending zsets scored
// by creation time, so FIFO order survives process restarts.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisQueue(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisQueue, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return newRedisQueueWithClient(client, logger), nil
}

func newRedisQueueWithClient(client *redis.Client, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisQueue{
		client: client,
		logger: logger.With("module", "redis_queue"),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	err := prepare(job)
	if err != nil {
		return err
	}

	return q.save(ctx, job)
}

func (q *RedisQueue) UpdateJob(ctx context.Context, job *models.Job) error {
	return q.save(ctx, job)
}

func (q *RedisQueue) save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	score := float64(job.CreatedAt.UnixNano())

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, redisJobKeyPrefix+job.ID, data, 0)
	pipe.ZAdd(ctx, redisJobsIndexKey, redis.Z{Score: score, Member: job.ID})

	if job.Status == models.JobStatusQueued {
		pipe.ZAdd(ctx, redisPendingKey, redis.Z{Score: score, Member: job.ID})
		pipe.ZAdd(ctx, pendingTypeKey(job.Type), redis.Z{Score: score, Member: job.ID})
	} else {
		pipe.ZRem(ctx, redisPendingKey, job.ID)
		pipe.ZRem(ctx, pendingTypeKey(job.Type), job.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, jobType models.JobType) (*models.Job, error) {
	popKey := redisPendingKey
	if jobType != "" {
		popKey = pendingTypeKey(jobType)
	}

	startedAt := time.Now().UTC().Format(time.RFC3339Nano)

	raw, err := redisDequeueScript.Run(ctx, q.client,
		[]string{popKey},
		startedAt, redisJobKeyPrefix, redisPendingKey,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job models.Job

	err = json.Unmarshal([]byte(raw), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal dequeued job: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Job(ctx context.Context, id string) (*models.Job, error) {
	raw, err := q.client.Get(ctx, redisJobKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var job models.Job

	err = json.Unmarshal([]byte(raw), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &job, nil
}

func (q *RedisQueue) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	ids, err := q.client.ZRevRange(ctx, redisJobsIndexKey, 0, redisListFetchSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, opts.Limit)

	for _, id := range ids {
		if len(jobs) >= opts.Limit {
			break
		}

		job, err := q.Job(ctx, id)
		if err != nil {
			return nil, err
		}

		if job == nil {
			continue
		}

		if opts.TenantID != "" && job.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != "" && job.Status != opts.Status {
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	err := q.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (q *RedisQueue) Close(ctx context.Context) error {
	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func pendingTypeKey(jobType models.JobType) string {
	return redisPendingKey + ":" + string(jobType)
}
