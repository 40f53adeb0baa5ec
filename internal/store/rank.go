package store

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"ragcourse/internal/model"

	"github.com/araddon/dateparse"
)

const (
	DefaultLimit       = 5
	DefaultTimeBias    = 1.0
	defaultMaxAttempts = 3

	// minCandidates is the smallest bm25 pool that is re-ranked by recency.
	minCandidates = 20
)

type searchOptions struct {
	limit       int
	alpha       float64
	maxAttempts int
	recovery    func(ctx context.Context) (string, error)
}

// SearchOption configures Search.
type SearchOption func(*searchOptions)

// WithLimit caps the number of returned articles.
func WithLimit(limit int) SearchOption {
	return func(o *searchOptions) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithTimeBias sets alpha in relevance * alpha / (days + alpha). Values near
// zero favour recent articles; large values approach pure lexical ranking.
func WithTimeBias(alpha float64) SearchOption {
	return func(o *searchOptions) {
		o.alpha = alpha
	}
}

// WithRecovery supplies a replacement query when the index rejects one.
func WithRecovery(fn func(ctx context.Context) (string, error)) SearchOption {
	return func(o *searchOptions) {
		o.recovery = fn
	}
}

// WithMaxAttempts bounds the number of queries tried when recovering.
func WithMaxAttempts(n int) SearchOption {
	return func(o *searchOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func applySearchOptions(opts ...SearchOption) searchOptions {
	o := searchOptions{
		limit:       DefaultLimit,
		alpha:       DefaultTimeBias,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func candidatePool(limit int) int {
	return max(limit*4, minCandidates)
}

// rankByTime scales each bm25 score by alpha / (days + alpha) and keeps the
// best limit rows. bm25 is negative with lower meaning better, so older
// articles drift towards zero. Articles without a parseable publish date get
// a factor of zero and sort after every dated match.
func rankByTime(rows []articleRow, alpha float64, limit int, now time.Time) []model.Article {
	for i := range rows {
		factor := 0.0
		if days, ok := daysSince(rows[i].PublishDate, now); ok {
			factor = alpha / (days + alpha)
		}
		rows[i].Score = rows[i].Relevance * factor
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.Relevance != b.Relevance {
			return a.Relevance < b.Relevance
		}
		return a.Seq < b.Seq
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	articles := make([]model.Article, len(rows))
	for i, r := range rows {
		articles[i] = r.Article
	}
	return articles
}

var ordinalSuffix = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)

// fallbackLayouts cover the "12 March 2023" style dates the text fallback finds.
var fallbackLayouts = []string{
	"2 January 2006",
	"2 Jan 2006",
	"2 January, 2006",
	"2 Jan, 2006",
	"2-Jan-2006",
	"2/Jan/2006",
	"2-January-2006",
	"2 Jan 06",
}

// ParsePublishDate parses the best-effort publish date strings the fetcher
// produces. It returns false for "Unknown" and anything unparseable.
func ParsePublishDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, model.UnknownDate) {
		return time.Time{}, false
	}
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// daysSince returns the age of a publish date in days, clamped at zero.
func daysSince(publishDate string, now time.Time) (float64, bool) {
	t, ok := ParsePublishDate(publishDate)
	if !ok {
		return 0, false
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return days, true
}
