// Package crawler walks a site from a seed URL, summarizes every page it can
// and stores the result with the recursion budget the page was reached with.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"ragcourse/internal/fetch"
	"ragcourse/internal/llm"
	"ragcourse/internal/metrics"
	"ragcourse/internal/model"
	"ragcourse/internal/store"
	"ragcourse/internal/textsplit"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultDomain          = "hmc.edu"
	DefaultWorkers         = 4
	DefaultMaxContentChars = 30000
)

// Summarizer produces the summary stored next to a page.
type Summarizer interface {
	Summarize(ctx context.Context, text string, opts ...llm.GenerateOption) (string, error)
}

// Config tunes a Crawler. Zero values use the defaults.
type Config struct {
	Domain          string
	Workers         int
	MaxContentChars int
}

func (c Config) withDefaults() Config {
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = DefaultMaxContentChars
	}
	c.Domain = strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	return c
}

// Crawler visits pages and writes them to the article store.
type Crawler struct {
	store      store.Store
	fetcher    fetch.Fetcher
	summarizer Summarizer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	cfg        Config
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithMetrics records per-page outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// New builds a Crawler.
func New(st store.Store, f fetch.Fetcher, s Summarizer, logger *zap.Logger, cfg Config, opts ...Option) *Crawler {
	c := &Crawler{
		store:      st,
		fetcher:    f,
		summarizer: s,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats counts what happened during one Crawl.
type Stats struct {
	Visited       int64 `json:"visited"`
	Stored        int64 `json:"stored"`
	Upgraded      int64 `json:"upgraded"`
	Duplicates    int64 `json:"duplicates"`
	OffDomain     int64 `json:"off_domain"`
	FetchFailed   int64 `json:"fetch_failed"`
	TooLarge      int64 `json:"too_large"`
	SummaryFailed int64 `json:"summary_failed"`
	StoreFailed   int64 `json:"store_failed"`
}

// Crawl visits rawURL with the given recursion budget. A negative budget
// still visits the seed but follows no links. With allowDupes set, the seed
// is stored again even if it is already in the store; linked pages keep the
// usual duplicate check.
//
// Per-page failures are logged and counted. Crawl only returns an error when
// ctx is cancelled or the store fails on the seed page.
func (c *Crawler) Crawl(ctx context.Context, rawURL string, budget int, allowDupes bool) (Stats, error) {
	s := &session{
		Crawler:    c,
		allowDupes: allowDupes,
		sem:        semaphore.NewWeighted(int64(c.cfg.Workers)),
		claimed:    make(map[string]int),
		locks:      make(map[string]*sync.Mutex),
	}
	err := s.visit(ctx, rawURL, budget, true)
	return s.stats.snapshot(), err
}

// InDomain reports whether rawURL is an http(s) URL on the allowed domain or
// one of its subdomains.
func (c *Crawler) InDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == c.cfg.Domain || strings.HasSuffix(host, "."+c.cfg.Domain)
}

type counters struct {
	visited, stored, upgraded, duplicates, offDomain  atomic.Int64
	fetchFailed, tooLarge, summaryFailed, storeFailed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Visited:       c.visited.Load(),
		Stored:        c.stored.Load(),
		Upgraded:      c.upgraded.Load(),
		Duplicates:    c.duplicates.Load(),
		OffDomain:     c.offDomain.Load(),
		FetchFailed:   c.fetchFailed.Load(),
		TooLarge:      c.tooLarge.Load(),
		SummaryFailed: c.summaryFailed.Load(),
		StoreFailed:   c.storeFailed.Load(),
	}
}

// session is the state of one Crawl call.
type session struct {
	*Crawler
	allowDupes bool
	sem        *semaphore.Weighted
	stats      counters

	mu      sync.Mutex
	claimed map[string]int
	locks   map[string]*sync.Mutex
}

// claim reports whether this session has not yet visited rawURL with a
// budget at least as large, and records budget if so.
func (s *session) claim(rawURL string, budget int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if best, ok := s.claimed[rawURL]; ok && best >= budget {
		return false
	}
	s.claimed[rawURL] = budget
	return true
}

func (s *session) lock(rawURL string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[rawURL]
	if !ok {
		m = &sync.Mutex{}
		s.locks[rawURL] = m
	}
	return m
}

func (s *session) outcome(counter *atomic.Int64, label string) {
	counter.Add(1)
	s.metrics.Page(label)
}

func (s *session) visit(ctx context.Context, rawURL string, budget int, seed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.InDomain(rawURL) {
		s.outcome(&s.stats.offDomain, metrics.PageOffDomain)
		return nil
	}
	if !s.claim(rawURL, budget) {
		return nil
	}
	s.stats.visited.Add(1)

	logger := s.logger.With(zap.String("url", rawURL), zap.Int("budget", budget))

	links, upgrade, err := s.process(ctx, logger, rawURL, budget, seed && s.allowDupes)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("Store failed", zap.Error(err))
		s.outcome(&s.stats.storeFailed, metrics.PageStoreError)
		if seed {
			return err
		}
		return nil
	}

	// An upgrade always revisits the links, even below a zero budget.
	if budget > 0 || upgrade {
		if err := s.fanOut(ctx, links, budget-1); err != nil {
			return err
		}
	}

	if upgrade {
		changed, err := s.store.UpgradeDepth(ctx, rawURL, budget)
		if err != nil {
			logger.Error("Depth upgrade failed", zap.Error(err))
			s.outcome(&s.stats.storeFailed, metrics.PageStoreError)
			if seed {
				return fmt.Errorf("upgrade depth of %s: %w", rawURL, err)
			}
			return nil
		}
		if changed {
			logger.Debug("Depth upgraded")
			s.outcome(&s.stats.upgraded, metrics.PageUpgraded)
		}
	}
	return nil
}

// process runs the per-URL critical section: the duplicate check, fetch,
// summarize and insert. It returns the links to follow and whether the stored
// depth must be raised once they have been visited. Only store failures are
// returned as errors.
func (s *session) process(ctx context.Context, logger *zap.Logger, rawURL string, budget int, allowDupes bool) ([]string, bool, error) {
	mu := s.lock(rawURL)
	mu.Lock()
	defer mu.Unlock()

	upgrade := false
	if !allowDupes {
		depth, ok, err := s.store.DepthOf(ctx, rawURL)
		if err != nil {
			return nil, false, fmt.Errorf("check %s: %w", rawURL, err)
		}
		if ok {
			if depth >= budget {
				logger.Debug("Already stored", zap.Int("stored_depth", depth))
				s.outcome(&s.stats.duplicates, metrics.PageDuplicate)
				return nil, false, nil
			}
			upgrade = true
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer s.sem.Release(1)

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		logger.Warn("Fetch failed", zap.Error(err))
		s.outcome(&s.stats.fetchFailed, metrics.PageFetchFailed)
		return nil, false, nil
	}

	if upgrade {
		// Re-crawl for link coverage only; the stored summary stays.
		return page.Links, true, nil
	}

	if n := textsplit.Len(page.Content); n >= s.cfg.MaxContentChars {
		logger.Info("Content too large, not stored", zap.Int("chars", n))
		s.outcome(&s.stats.tooLarge, metrics.PageTooLarge)
		return page.Links, false, nil
	}

	summary, err := s.summarizer.Summarize(ctx, page.Content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		logger.Warn("Summarize failed, not stored", zap.Error(err))
		s.outcome(&s.stats.summaryFailed, metrics.PageSummaryError)
		return page.Links, false, nil
	}

	article := model.NewArticle(page, summary, budget)
	if err := s.store.Insert(ctx, &article); err != nil {
		return nil, false, fmt.Errorf("insert %s: %w", rawURL, err)
	}
	logger.Info("Stored", zap.String("title", article.Title))
	s.outcome(&s.stats.stored, metrics.PageStored)
	return page.Links, false, nil
}

// fanOut visits links concurrently. The semaphore inside process bounds the
// real work; only cancellation is propagated.
func (s *session) fanOut(ctx context.Context, links []string, budget int) error {
	var g errgroup.Group
	for _, link := range links {
		g.Go(func() error {
			return s.visit(ctx, link, budget, false)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
