package worker

import (
	"context"
	"errors"
	"time"

	"ragcourse/internal/crawler"
	"ragcourse/internal/model"
	"ragcourse/internal/store"

	"go.uber.org/zap"
)

// popTimeout is how long one Pop waits before the loop checks ctx again.
const popTimeout = 2 * time.Second

// Queue is the part of store.Queue the worker needs.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*model.CrawlJob, error)
	Finish(ctx context.Context, job *model.CrawlJob, stored int, jobErr error) error
}

// Crawler runs one crawl job.
// This allows us to mock the crawl step in tests.
type Crawler interface {
	Crawl(ctx context.Context, rawURL string, budget int, allowDupes bool) (crawler.Stats, error)
}

type Worker struct {
	queue   Queue
	crawler Crawler
	logger  *zap.Logger
}

// NewWorker wires a queue to a crawler.
func NewWorker(q Queue, c Crawler, logger *zap.Logger) *Worker {
	return &Worker{
		queue:   q,
		crawler: c,
		logger:  logger,
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started. Waiting for jobs...")

	for {
		// Wait for job (Blocking call to Redis)
		job, err := w.queue.Pop(ctx, popTimeout)
		if ctx.Err() != nil {
			w.logger.Info("Worker shutting down")
			return
		}
		if errors.Is(err, store.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			w.logger.Error("Queue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *model.CrawlJob) {
	logger := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("url", job.URL))
	logger.Info("Processing started", zap.Int("depth", job.Depth))

	stats, err := w.crawler.Crawl(ctx, job.URL, job.Depth, job.AllowDupes)
	if err != nil {
		logger.Error("Crawl failed", zap.Error(err))
	}

	// The job outcome is recorded even when shutting down mid-crawl.
	if ferr := w.queue.Finish(context.WithoutCancel(ctx), job, int(stats.Stored), err); ferr != nil {
		logger.Error("Failed to save job result", zap.Error(ferr))
		return
	}

	logger.Info("Crawl complete",
		zap.Int64("visited", stats.Visited),
		zap.Int64("stored", stats.Stored),
		zap.Int64("upgraded", stats.Upgraded))
}
