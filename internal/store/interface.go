package store

import (
	"context"
	"errors"

	"ragcourse/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("article not found")
	ErrMalformedQuery = errors.New("search query rejected by the index")
	ErrQueueEmpty     = errors.New("crawl queue is empty")
)

// Store persists crawled articles. It does not enforce URL uniqueness;
// callers check Exists or DepthOf before Insert.
type Store interface {
	Insert(ctx context.Context, article *model.Article) error
	Exists(ctx context.Context, url string) (bool, error)
	DepthOf(ctx context.Context, url string) (depth int, ok bool, err error)
	UpgradeDepth(ctx context.Context, url string, depth int) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Search(ctx context.Context, query string, opts ...SearchOption) ([]model.Article, error)
	Count(ctx context.Context) (int, error)
}
