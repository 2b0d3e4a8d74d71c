// Package telegraph republishes full article text to a telegra.ph-style
// paste-hosting API.
package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NewsBot/internal/domain"
	"NewsBot/internal/infrastructure/scraper"
	"NewsBot/internal/ports"
)

// Node is the content-tree element the page API accepts. Children mix
// nested nodes and plain strings.
type Node struct {
	Tag      string   `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []any    `json:"children,omitempty"`
}

// Client creates hosted article pages.
type Client struct {
	endpoint    string
	accessToken string
	authorName  string
	httpClient  *http.Client
}

// NewClient builds a client; an empty token disables republishing at the
// call site, not here.
func NewClient(endpoint, accessToken, authorName string) *Client {
	return &Client{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		accessToken: accessToken,
		authorName:  authorName,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Republisher composes content extraction with page creation.
type Republisher struct {
	client    *Client
	extractor *scraper.Extractor
}

var _ ports.Republisher = (*Republisher)(nil)

// NewRepublisher wires the extractor and page client together.
func NewRepublisher(client *Client, extractor *scraper.Extractor) *Republisher {
	return &Republisher{client: client, extractor: extractor}
}

// Republish extracts the article body and hosts it as a standalone page,
// returning the hosted URL.
func (r *Republisher) Republish(ctx context.Context, item domain.StoryCandidate) (string, error) {
	content, err := r.extractor.Extract(ctx, item.ArticleURL, item.Source)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}

	nodes := buildNodes(item, content)
	return r.client.CreatePage(ctx, item.Title, nodes, r.client.authorName, item.ArticleURL)
}

// buildNodes lays the page out: cover image, summary block, body, footer
// with source details and the original link.
func buildNodes(item domain.StoryCandidate, content scraper.Content) []Node {
	var nodes []Node

	cover := item.ImageURL
	if cover == "" && len(content.Images) > 0 {
		cover = content.Images[0]
	}
	if cover != "" {
		nodes = append(nodes, Node{
			Tag: "figure",
			Children: []any{
				Node{Tag: "img", Attrs: map[string]string{"src": cover}},
				Node{Tag: "figcaption", Children: []any{item.Title}},
			},
		})
	}

	if len(item.SummaryText) > 20 {
		nodes = append(nodes,
			Node{Tag: "blockquote", Children: []any{item.SummaryText}},
			Node{Tag: "hr"},
		)
	}

	for _, p := range content.Paragraphs {
		nodes = append(nodes, Node{Tag: p.Tag, Children: []any{p.Text}})
	}

	footer := "Source: " + item.Source
	if item.Category != "" {
		footer += " | Category: " + item.Category
	}
	if !item.PublishDate.IsZero() {
		footer += " | Published: " + item.PublishDate.Format("January 2, 2006")
	}
	nodes = append(nodes,
		Node{Tag: "hr"},
		Node{Tag: "p", Children: []any{footer}},
		Node{Tag: "p", Children: []any{
			Node{
				Tag:      "a",
				Attrs:    map[string]string{"href": item.ArticleURL},
				Children: []any{"View original article"},
			},
		}},
	)

	return nodes
}

// CreatePage calls the createPage endpoint and returns the page URL.
func (c *Client) CreatePage(ctx context.Context, title string, nodes []Node, authorName, authorURL string) (string, error) {
	if c.accessToken == "" {
		return "", fmt.Errorf("telegraph client has no access token")
	}

	content, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("marshal page content: %w", err)
	}

	form := url.Values{}
	form.Set("access_token", c.accessToken)
	form.Set("title", clip(title, 256))
	form.Set("content", string(content))
	if authorName != "" {
		form.Set("author_name", clip(authorName, 128))
	}
	if authorURL != "" {
		form.Set("author_url", authorURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/createPage",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK     bool `json:"ok"`
		Result struct {
			URL string `json:"url"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !body.OK || body.Result.URL == "" {
		return "", fmt.Errorf("page creation rejected: %s", body.Error)
	}

	return body.Result.URL, nil
}

func clip(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
