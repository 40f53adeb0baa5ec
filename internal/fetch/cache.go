package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragcourse/internal/model"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "page:"

// CachedFetcher keeps fetched pages in Badger for a TTL so that re-crawls of
// the same URL do not hit the network again.
type CachedFetcher struct {
	next   Fetcher
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

// OpenCache opens (or creates) a Badger page cache at path.
// Pass path="" to keep the cache in memory.
func OpenCache(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Silence default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// NewCachedFetcher wraps next with a Badger-backed cache.
func NewCachedFetcher(next Fetcher, db *badger.DB, ttl time.Duration, logger *zap.Logger) *CachedFetcher {
	return &CachedFetcher{next: next, db: db, ttl: ttl, logger: logger}
}

// Fetch returns the cached page for rawURL, or fetches and caches it.
// Cache errors are logged and never fail the fetch.
func (c *CachedFetcher) Fetch(ctx context.Context, rawURL string) (*model.Page, error) {
	page, err := c.get(rawURL)
	switch {
	case err == nil:
		c.logger.Debug("Page cache hit", zap.String("url", rawURL))
		return page, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		c.logger.Warn("Page cache read failed", zap.String("url", rawURL), zap.Error(err))
	}

	page, err = c.next.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if err := c.put(rawURL, page); err != nil {
		c.logger.Warn("Page cache write failed", zap.String("url", rawURL), zap.Error(err))
	}
	return page, nil
}

func (c *CachedFetcher) get(rawURL string) (*model.Page, error) {
	var page model.Page
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + rawURL))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &page)
		})
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *CachedFetcher) put(rawURL string, page *model.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(cacheKeyPrefix+rawURL), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// RunGC reclaims value log space every interval until ctx is done. Expired
// pages only free disk space once their log file is rewritten.
func RunGC(ctx context.Context, db *badger.DB, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Rewrite until a pass finds nothing to reclaim.
		for {
			err := db.RunValueLogGC(0.7)
			if err == nil {
				continue
			}
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				logger.Warn("Page cache GC failed", zap.Error(err))
			}
			break
		}
	}
}
