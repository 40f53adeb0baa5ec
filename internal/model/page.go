package model

// Page is what the fetcher extracts from a single URL.
type Page struct {
	Title       string   `json:"title"`
	PublishDate string   `json:"publish_date"`
	CrawlDate   string   `json:"crawl_date"`
	Content     string   `json:"content"`
	Links       []string `json:"links"`
	URL         string   `json:"url"`
}
