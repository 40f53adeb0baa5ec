package model

import "github.com/google/uuid"

// UnknownDate is stored when no publish date could be extracted from a page.
const UnknownDate = "Unknown"

// CrawlDateLayout is the layout of Article.CrawlDate and Page.CrawlDate.
const CrawlDateLayout = "2006-01-02 15:04:05"

// Article is one crawled and summarized page, keyed by URL.
type Article struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Content     string    `json:"content,omitempty" db:"content"`
	URL         string    `json:"url" db:"url"`
	PublishDate string    `json:"publish_date" db:"publish_date"`
	CrawlDate   string    `json:"crawl_date" db:"crawl_date"`
	Summary     string    `json:"summary" db:"summary"`
	Depth       int       `json:"depth" db:"depth"`

	// Set by search only.
	Relevance float64 `json:"relevance,omitempty" db:"relevance"`
	Score     float64 `json:"score,omitempty" db:"-"`
}

// NewArticle builds an Article from a fetched page, its summary and the
// recursion budget the page was reached with.
func NewArticle(page *Page, summary string, depth int) Article {
	return Article{
		ID:          uuid.New(),
		Title:       page.Title,
		Content:     page.Content,
		URL:         page.URL,
		PublishDate: page.PublishDate,
		CrawlDate:   page.CrawlDate,
		Summary:     summary,
		Depth:       depth,
	}
}
