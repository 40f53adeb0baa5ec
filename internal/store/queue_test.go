package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ragcourse/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := NewQueue(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestQueue_PushAndPop(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := model.NewCrawlJob("https://www.hmc.edu/biology/programs/", 2)
	require.NoError(t, q.Push(ctx, &job))

	// Check Queue using Miniredis direct inspection
	queue, err := mr.List(queueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID.String()}, queue)

	val, err := mr.Get(jobKey(job.ID))
	require.NoError(t, err)
	var saved model.CrawlJob
	require.NoError(t, json.Unmarshal([]byte(val), &saved))
	assert.Equal(t, 2, saved.Depth)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	popped, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, popped.ID)
	assert.Equal(t, job.URL, popped.URL)
	assert.Equal(t, model.JobPending, popped.Status)
}

func TestQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Pop(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueue_FinishDoesNotRequeue(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := model.NewCrawlJob("https://www.hmc.edu/", 0)
	require.NoError(t, q.Push(ctx, &job))
	_, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Finish(ctx, &job, 0, errors.New("fetch failed")))

	queue, _ := mr.List(queueKey)
	assert.Empty(t, queue)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, "fetch failed", got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
}

func TestQueue_RecentKeepsNewestFirst(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := model.NewCrawlJob("https://www.hmc.edu/one", 0)
	second := model.NewCrawlJob("https://www.hmc.edu/two", 0)
	require.NoError(t, q.Push(ctx, &first))
	require.NoError(t, q.Push(ctx, &second))

	recent, err := q.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
}

func TestQueue_RecentSkipsMissingJobs(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	gone := model.NewCrawlJob("https://www.hmc.edu/gone", 0)
	kept := model.NewCrawlJob("https://www.hmc.edu/kept", 0)
	require.NoError(t, q.Push(ctx, &gone))
	require.NoError(t, q.Push(ctx, &kept))
	mr.Del(jobKey(gone.ID))

	recent, err := q.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, kept.ID, recent[0].ID)
}

func TestQueue_RecentReportsRedisErrors(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := model.NewCrawlJob("https://www.hmc.edu/one", 0)
	require.NoError(t, q.Push(ctx, &job))

	// A list under the job key makes GET fail with WRONGTYPE.
	mr.Del(jobKey(job.ID))
	_, err := mr.Lpush(jobKey(job.ID), "not a job")
	require.NoError(t, err)

	_, err = q.Recent(ctx, 10)
	assert.Error(t, err)
}

func TestNewQueue_UnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewQueue(addr)
	assert.Error(t, err)
}
