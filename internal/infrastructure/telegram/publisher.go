// Package telegram delivers stories and run reports to Telegram chats.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

const apiBase = "https://api.telegram.org"

// Publisher posts formatted story messages to per-channel chats. Retry on
// rate limiting is handled here; the orchestrator never retries.
type Publisher struct {
	botToken       string
	channels       map[string]string // source code -> chat id
	fallbackChat   string
	disablePreview bool
	apiURL         string
	client         *http.Client
	logger         *slog.Logger
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher registers bot token and channel routing.
func NewPublisher(botToken string, channels map[string]string, fallbackChat string, disablePreview bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		botToken:       botToken,
		channels:       channels,
		fallbackChat:   fallbackChat,
		disablePreview: disablePreview,
		apiURL:         apiBase,
		client:         &http.Client{Timeout: 20 * time.Second},
		logger:         logger,
	}
}

// Publish formats the story and sends it: photo-with-caption when an image
// is available, plain message otherwise or as fallback.
func (p *Publisher) Publish(ctx context.Context, item domain.StoryCandidate) error {
	if p.botToken == "" {
		return fmt.Errorf("telegram publisher misconfigured")
	}

	chatID := p.routeChannel(item)
	if chatID == "" {
		return fmt.Errorf("no channel configured for source %s", item.Source)
	}

	msg := formatMessage(item)

	if item.ImageURL != "" {
		form := url.Values{}
		form.Set("chat_id", chatID)
		form.Set("photo", item.ImageURL)
		form.Set("caption", msg)
		form.Set("parse_mode", "HTML")
		if err := p.call(ctx, "sendPhoto", form); err == nil {
			return nil
		} else {
			p.logger.Warn("photo send failed, falling back to text", "title", item.Title, "error", err)
		}
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", msg)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", strconv.FormatBool(p.disablePreview))
	return p.call(ctx, "sendMessage", form)
}

// routeChannel maps the item's source to its chat id; unknown sources
// land on the fallback chat.
func (p *Publisher) routeChannel(item domain.StoryCandidate) string {
	if id, ok := p.channels[item.Source]; ok && id != "" {
		return id
	}
	return p.fallbackChat
}

func (p *Publisher) call(ctx context.Context, method string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", p.apiURL, p.botToken, method)

	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return p.client.Do(req)
	}

	resp, err := send()
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp)
		resp.Body.Close()
		p.logger.Warn("rate limited, waiting", "seconds", wait.Seconds())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if resp, err = send(); err != nil {
			return fmt.Errorf("retry request: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s error: %s", method, resp.Status)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}

// formatMessage builds the HTML chat message: headline, summary, source
// metadata, and story links.
func formatMessage(item domain.StoryCandidate) string {
	title := html.EscapeString(item.Title)
	summary := html.EscapeString(strings.TrimSpace(item.SummaryText))
	if summary == "" {
		summary = "Check out the full story below!"
	}

	parts := []string{
		fmt.Sprintf("<b>%s</b>", title),
		"",
		fmt.Sprintf("<i>%s</i>", clip(summary, 350)),
		"",
	}

	meta := []string{fmt.Sprintf("<b>Source:</b> %s", html.EscapeString(item.Source))}
	if item.Category != "" {
		meta = append(meta, fmt.Sprintf("<b>Category:</b> %s", html.EscapeString(item.Category)))
	}
	parts = append(parts, strings.Join(meta, " | "))

	if !item.PublishDate.IsZero() {
		parts = append(parts, item.PublishDate.Format("Jan 02, 03:04 PM"))
	}
	parts = append(parts, "")

	articleLink := html.EscapeString(item.ArticleURL)
	if item.TelegraphURL != "" {
		parts = append(parts,
			fmt.Sprintf("<a href='%s'><b>Read full story</b></a>", html.EscapeString(item.TelegraphURL)),
			fmt.Sprintf("<a href='%s'>Original source</a>", articleLink),
		)
	} else {
		parts = append(parts, fmt.Sprintf("<a href='%s'><b>Read full story</b></a>", articleLink))
	}

	return strings.Join(parts, "\n")
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit-3]) + "..."
}
