// Package rss fetches candidate stories from RSS and Atom feeds.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher reads a feed URL and maps its items to story candidates.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

var _ ports.Fetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; nil selects a 20s-timeout default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client, parser: gofeed.NewParser()}
}

// Name identifies the strategy inside the registry.
func (f *Fetcher) Name() string {
	return "rss"
}

// Fetch downloads and parses the feed. An empty feed is not an error.
func (f *Fetcher) Fetch(ctx context.Context, req ports.FetchRequest) ([]domain.StoryCandidate, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", req.SourceCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", req.SourceCode, resp.Status)
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", req.SourceCode, err)
	}

	candidates := make([]domain.StoryCandidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" || item.Link == "" {
			continue
		}

		candidates = append(candidates, domain.StoryCandidate{
			Title:       title,
			Source:      req.SourceCode,
			ArticleURL:  item.Link,
			SummaryText: excerpt(item),
			ImageURL:    imageURL(item),
			PublishDate: publishDate(item),
			Category:    category(item, req.Category),
		})
	}

	return candidates, nil
}

// excerpt prefers Content over Description, stripped to plain-ish text.
func excerpt(item *gofeed.Item) string {
	text := item.Content
	if strings.TrimSpace(text) == "" {
		text = item.Description
	}
	return strings.TrimSpace(text)
}

func imageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

func publishDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func category(item *gofeed.Item, fallback string) string {
	if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
		return strings.TrimSpace(item.Categories[0])
	}
	return fallback
}
