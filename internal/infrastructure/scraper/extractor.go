package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Content is the extracted body of an article page, ready for
// republishing.
type Content struct {
	Paragraphs []Paragraph
	Images     []string
}

// Paragraph is one block-level piece of article text.
type Paragraph struct {
	Tag  string // p, h3, or blockquote
	Text string
}

// Container selectors tried in order per source; the per-source entries
// mirror the markup of the feeds shipped in the default config.
var contentSelectors = map[string][]string{
	"ANN":     {".meat", "article"},
	"CR":      {".article-body", "article"},
	"default": {"article", ".post-content", ".entry-content", ".article-content", ".story-content"},
}

var skipTextMarkers = []string{"cookie", "subscribe", "newsletter", "advertisement"}

// Extractor pulls the main text and images out of an article page.
type Extractor struct {
	client    *http.Client
	maxImages int
}

// NewExtractor wires an HTTP client; nil selects a 15s-timeout default.
func NewExtractor(client *http.Client) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Extractor{client: client, maxImages: 5}
}

// Extract fetches the page and returns its main content. An article page
// with no recognizable body yields an error so callers can fall back to
// linking the original.
func (e *Extractor) Extract(ctx context.Context, articleURL, sourceCode string) (Content, error) {
	doc, err := fetchDocument(ctx, e.client, articleURL)
	if err != nil {
		return Content{}, err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe, form").Remove()

	body := findBody(doc, sourceCode)
	if body == nil {
		return Content{}, fmt.Errorf("no content container found at %s", articleURL)
	}

	var content Content
	body.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
		if len(content.Images) >= e.maxImages {
			return false
		}
		src := firstAttr(img, "src", "data-src", "data-lazy-src")
		if src == "" || looksLikeChrome(src) {
			return true
		}
		content.Images = append(content.Images, absoluteURL(articleURL, src))
		return true
	})

	body.Find("p, h2, h3, blockquote").Each(func(i int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) < 20 || hasSkipMarker(text) {
			return
		}
		tag := goquery.NodeName(sel)
		if tag == "h2" {
			tag = "h3"
		}
		content.Paragraphs = append(content.Paragraphs, Paragraph{Tag: tag, Text: text})
	})

	if len(content.Paragraphs) == 0 {
		return Content{}, fmt.Errorf("empty article body at %s", articleURL)
	}

	return content, nil
}

func findBody(doc *goquery.Document, sourceCode string) *goquery.Selection {
	selectors, ok := contentSelectors[sourceCode]
	if !ok {
		selectors = contentSelectors["default"]
	}
	for _, sel := range selectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return nil
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && v != "" {
			return v
		}
	}
	return ""
}

func looksLikeChrome(src string) bool {
	for _, marker := range []string{"logo", "icon", "avatar", "ads", "1x1"} {
		if strings.Contains(src, marker) {
			return true
		}
	}
	return false
}

func hasSkipMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range skipTextMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
