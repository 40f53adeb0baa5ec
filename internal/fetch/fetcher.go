package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"ragcourse/internal/model"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Fetcher resolves a URL into page data.
// This allows us to mock the download step in tests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.Page, error)
}

// ErrStatus is wrapped by fetch errors caused by a non-200 response.
var ErrStatus = errors.New("unexpected status code")

const (
	noTitle   = "No Title Found"
	noContent = "No Content Found"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "ragcourse/1.0"

	// maxBodyBytes limits the size of fetched responses.
	maxBodyBytes = 10 * 1024 * 1024
)

var (
	datePattern = regexp.MustCompile(`(?i)\b(?:\d{1,2}[-/thstndrd\s]+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*[-/\s,]*\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	blankLines  = regexp.MustCompile(`\n\s*\n+`)
)

// HTTPFetcher downloads pages over HTTP and extracts their text with goquery.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewHTTPFetcher returns a fetcher with the given request timeout and user
// agent. Zero values use the defaults.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Fetch downloads rawURL and extracts title, publish date, body text and links.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*model.Page, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page, err := Extract(pageURL, body)
	if err != nil {
		return nil, err
	}
	page.CrawlDate = f.now().Format(model.CrawlDateLayout)
	return page, nil
}

// Extract parses an HTML document fetched from pageURL.
func Extract(pageURL *url.URL, body []byte) (*model.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return &model.Page{
		Title:       extractTitle(doc),
		PublishDate: extractPublishDate(doc),
		Content:     extractContent(doc, pageURL, body),
		Links:       extractLinks(doc, pageURL),
		URL:         pageURL.String(),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return noTitle
}

// extractPublishDate prefers the publish meta tags, then the first date-like
// string in the visible text.
func extractPublishDate(doc *goquery.Document) string {
	for _, sel := range []string{"meta[property='article:published_time']", "meta[name='publish_date']"} {
		if date, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(date) != "" {
			return strings.TrimSpace(date)
		}
	}

	if match := datePattern.FindString(doc.Text()); match != "" {
		return match
	}
	return model.UnknownDate
}

// extractContent returns the text of <main>, one text node per line. Pages
// without <main> fall back to readability.
func extractContent(doc *goquery.Document, pageURL *url.URL, body []byte) string {
	var content string

	if main := doc.Find("main").First(); main.Length() > 0 {
		content = nodeText(main.Nodes[0])
	} else if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		content = strings.TrimSpace(article.TextContent)
	}

	if content == "" {
		return noContent
	}
	return blankLines.ReplaceAllString(content, "\n\n")
}

// nodeText joins the text nodes under n with newlines.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			parts = append(parts, n.Data)
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// extractLinks resolves every anchor against the page URL, drops fragments and
// non-HTTP schemes, and removes duplicates.
func extractLinks(doc *goquery.Document, pageURL *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := pageURL.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}
