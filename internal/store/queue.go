package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragcourse/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey  = "queue:crawl"
	recentKey = "list:recent"
	recentMax = 50
)

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id)
}

// Queue hands crawl jobs from clients to the worker through Redis.
type Queue struct {
	rdb *redis.Client
}

// NewQueue connects to Redis at redisAddr.
func NewQueue(redisAddr string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Queue{rdb: rdb}, nil
}

// Close cleans up the connection
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Push saves the job and, while it is pending, puts it on the queue and the
// recent list.
func (q *Queue) Push(ctx context.Context, job *model.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.Pipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)

	if job.Status == model.JobPending {
		pipe.LPush(ctx, queueKey, job.ID.String())
		pipe.LPush(ctx, recentKey, job.ID.String())
		pipe.LTrim(ctx, recentKey, 0, recentMax-1) // Keep only last 50 items
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push crawl job: %w", err)
	}
	return nil
}

// Finish records the outcome of a job without queueing it again.
func (q *Queue) Finish(ctx context.Context, job *model.CrawlJob, stored int, jobErr error) error {
	now := time.Now()
	job.FinishedAt = &now
	job.Stored = stored
	job.Status = model.JobDone
	if jobErr != nil {
		job.Status = model.JobFailed
		job.ErrorMessage = jobErr.Error()
	}
	return q.Push(ctx, job)
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*model.CrawlJob, error) {
	val, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var job model.CrawlJob
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Pop waits up to timeout for the next job. A zero timeout blocks until a
// job arrives or ctx is done.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*model.CrawlJob, error) {
	result, err := q.rdb.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	} else if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(result[1])
	if err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", result[1], err)
	}
	return q.Get(ctx, id)
}

// Len returns the number of jobs waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, queueKey).Result()
}

// Recent fetches the most recently queued jobs.
func (q *Queue) Recent(ctx context.Context, limit int) ([]model.CrawlJob, error) {
	ids, err := q.rdb.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	var jobs []model.CrawlJob
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		val, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("load recent job %s: %w", id, err)
		}

		var j model.CrawlJob
		if err := json.Unmarshal(val, &j); err == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}
