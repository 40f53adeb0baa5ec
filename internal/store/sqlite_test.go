package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ragcourse/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(MemoryPath, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func article(url, content, publishDate string, depth int) *model.Article {
	return &model.Article{
		Title:       "Harvey Mudd College",
		Content:     content,
		URL:         url,
		PublishDate: publishDate,
		CrawlDate:   "2025-06-01 12:00:00",
		Summary:     "A page from the college website.",
		Depth:       depth,
	}
}

func daysAgo(n int) string {
	return testNow.AddDate(0, 0, -n).Format(time.RFC3339)
}

func TestSQLiteStore_InsertAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	a := article("https://www.hmc.edu/a", "content", daysAgo(1), 0)
	require.NoError(t, s.Insert(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID, "store assigns an id")

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.URL, got.URL)
	assert.Equal(t, a.Summary, got.Summary)
	assert.Equal(t, a.Content, got.Content)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ExistsAndDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://www.hmc.edu/biology/"

	exists, err := s.Exists(ctx, url)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := s.DepthOf(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Insert(ctx, article(url, "biology", daysAgo(3), 1)))

	exists, err = s.Exists(ctx, url)
	require.NoError(t, err)
	assert.True(t, exists)

	depth, ok, err := s.DepthOf(ctx, url)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, depth)
}

func TestSQLiteStore_UpgradeDepthIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://www.hmc.edu/cs/"
	require.NoError(t, s.Insert(ctx, article(url, "computer science", daysAgo(3), 1)))

	changed, err := s.UpgradeDepth(ctx, url, 3)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpgradeDepth(ctx, url, 2)
	require.NoError(t, err)
	assert.False(t, changed, "a lower depth never overwrites")

	changed, err = s.UpgradeDepth(ctx, url, 3)
	require.NoError(t, err)
	assert.False(t, changed)

	depth, _, err := s.DepthOf(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "upgrades never add rows")
}

func TestSQLiteStore_SearchPrefersRecentArticle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := article("https://www.hmc.edu/old", "biology major requirements", daysAgo(1000), 0)
	recent := article("https://www.hmc.edu/recent", "biology major requirements", daysAgo(1), 0)
	require.NoError(t, s.Insert(ctx, old))
	require.NoError(t, s.Insert(ctx, recent))

	got, err := s.Search(ctx, "biology", WithTimeBias(1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recent.URL, got[0].URL)
	assert.Equal(t, old.URL, got[1].URL)
	assert.Negative(t, got[0].Relevance)
	assert.Less(t, got[0].Score, got[1].Score)
}

func TestSQLiteStore_LargeAlphaApproachesLexicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	strong := article("https://www.hmc.edu/strong", "biology biology biology major", daysAgo(1000), 0)
	weak := article("https://www.hmc.edu/weak", "biology chemistry physics major", daysAgo(1), 0)
	require.NoError(t, s.Insert(ctx, strong))
	require.NoError(t, s.Insert(ctx, weak))

	lexical, err := s.Search(ctx, "biology", WithTimeBias(1e9))
	require.NoError(t, err)
	require.Len(t, lexical, 2)
	assert.Equal(t, strong.URL, lexical[0].URL)

	recency, err := s.Search(ctx, "biology", WithTimeBias(1))
	require.NoError(t, err)
	require.Len(t, recency, 2)
	assert.Equal(t, weak.URL, recency[0].URL)
}

func TestSQLiteStore_UnknownDatesRankLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	undated := article("https://www.hmc.edu/undated", "biology biology biology", model.UnknownDate, 0)
	dated := article("https://www.hmc.edu/dated", "biology seminar", daysAgo(2000), 0)
	require.NoError(t, s.Insert(ctx, undated))
	require.NoError(t, s.Insert(ctx, dated))

	got, err := s.Search(ctx, "biology")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, dated.URL, got[0].URL)
	assert.Equal(t, undated.URL, got[1].URL)
	assert.Zero(t, got[1].Score)
}

func TestSQLiteStore_SearchIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, url := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, s.Insert(ctx, article("https://www.hmc.edu/"+url, "course catalog", daysAgo(i%3), 0)))
	}

	first, err := s.Search(ctx, "course", WithLimit(5))
	require.NoError(t, err)
	require.Len(t, first, 5)

	for range 5 {
		again, err := s.Search(ctx, "course", WithLimit(5))
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].URL, again[i].URL)
		}
	}
}

func TestSQLiteStore_SearchNoMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, article("https://www.hmc.edu/a", "physics", daysAgo(1), 0)))

	got, err := s.Search(ctx, "astronomy")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_MalformedQueryWithoutRecovery(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Search(context.Background(), `"biology`)
	assert.ErrorIs(t, err, ErrMalformedQuery)

	_, err = s.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMalformedQuery)
}

func TestSQLiteStore_MalformedQueryRecovers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, article("https://www.hmc.edu/bio", "biology major", daysAgo(1), 0)))

	calls := 0
	got, err := s.Search(ctx, `"biology`, WithRecovery(func(context.Context) (string, error) {
		calls++
		return "biology", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, got, 1)
	assert.Equal(t, "https://www.hmc.edu/bio", got[0].URL)
}

func TestSQLiteStore_RecoveryIsBounded(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	_, err := s.Search(context.Background(), `"bad`, WithMaxAttempts(3), WithRecovery(func(context.Context) (string, error) {
		calls++
		return `"still bad`, nil
	}))
	assert.ErrorIs(t, err, ErrMalformedQuery)
	assert.Equal(t, 2, calls)
}

func TestSQLiteStore_RecoveryError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("keywords unavailable")

	_, err := s.Search(context.Background(), `"bad`, WithRecovery(func(context.Context) (string, error) {
		return "", boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestSQLiteStore_RejectsNonPositiveAlpha(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Search(context.Background(), "biology", WithTimeBias(0))
	assert.Error(t, err)
}

func TestSQLiteStore_ReopenKeepsRowsAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.createSchema(ctx), "creating the schema twice is harmless")
	require.NoError(t, s.Insert(ctx, article("https://www.hmc.edu/a", "biology", daysAgo(1), 0)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParsePublishDate(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"2024-09-01T10:00:00Z", true, time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)},
		{"2023-03-12", true, time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"12th March 2023", true, time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"Unknown", false, time.Time{}},
		{"", false, time.Time{}},
		{"not a date", false, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePublishDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}
