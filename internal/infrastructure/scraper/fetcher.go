// Package scraper reads news directly from HTML pages: headline lists for
// sources without feeds, and full article bodies for republishing.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Selector option keys understood by the headline fetcher. Defaults cover
// common article-list markup.
const (
	optItem    = "itemSelector"
	optTitle   = "titleSelector"
	optLink    = "linkSelector"
	optSummary = "summarySelector"
)

// Fetcher scrapes a headline list page using config-supplied selectors.
type Fetcher struct {
	client *http.Client
	limit  int
}

var _ ports.Fetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; limit caps headlines per page (default 30).
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client, limit: 30}
}

// Name identifies the strategy inside the registry.
func (f *Fetcher) Name() string {
	return "html"
}

// Fetch loads the page and extracts one candidate per item selector match.
func (f *Fetcher) Fetch(ctx context.Context, req ports.FetchRequest) ([]domain.StoryCandidate, error) {
	doc, err := fetchDocument(ctx, f.client, req.URL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceCode, err)
	}

	itemSel := option(req.Options, optItem, "article")
	titleSel := option(req.Options, optTitle, "h2, h3, .title")
	linkSel := option(req.Options, optLink, "a")
	summarySel := option(req.Options, optSummary, "p")

	var candidates []domain.StoryCandidate
	doc.Find(itemSel).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(candidates) >= f.limit {
			return false
		}

		title := strings.TrimSpace(sel.Find(titleSel).First().Text())
		href, _ := sel.Find(linkSel).First().Attr("href")
		if title == "" || href == "" {
			return true
		}

		candidates = append(candidates, domain.StoryCandidate{
			Title:       title,
			Source:      req.SourceCode,
			ArticleURL:  absoluteURL(req.URL, href),
			SummaryText: strings.TrimSpace(sel.Find(summarySel).First().Text()),
			Category:    req.Category,
		})
		return true
	})

	return candidates, nil
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func option(opts map[string]string, key, fallback string) string {
	if v, ok := opts[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
