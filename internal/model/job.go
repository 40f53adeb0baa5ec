package model

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// CrawlJob is a seed URL handed from a client to the crawl worker.
type CrawlJob struct {
	ID           uuid.UUID  `json:"id"`
	URL          string     `json:"url"`
	Depth        int        `json:"depth"`
	AllowDupes   bool       `json:"allow_dupes,omitempty"`
	Status       JobStatus  `json:"status"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Stored       int        `json:"stored,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewCrawlJob creates a new CrawlJob for the given seed URL and budget.
func NewCrawlJob(rawURL string, depth int) CrawlJob {
	return CrawlJob{
		ID:         uuid.New(),
		URL:        rawURL,
		Depth:      depth,
		Status:     JobPending,
		EnqueuedAt: time.Now(),
	}
}
