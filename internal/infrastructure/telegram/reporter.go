package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

// Reporter sends the end-of-cycle summary to the admin chat. A missing
// admin id turns reporting into a no-op.
type Reporter struct {
	botToken string
	adminID  string
	apiURL   string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.Reporter = (*Reporter)(nil)

// NewReporter wires the admin chat target.
func NewReporter(botToken, adminID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		botToken: botToken,
		adminID:  adminID,
		apiURL:   apiBase,
		client:   &http.Client{Timeout: 20 * time.Second},
		logger:   logger,
	}
}

// SendReport formats and posts the run summary.
func (r *Reporter) SendReport(ctx context.Context, report domain.RunReport) error {
	if r.adminID == "" || r.botToken == "" {
		return nil
	}

	form := url.Values{}
	form.Set("chat_id", r.adminID)
	form.Set("text", formatReport(report))
	form.Set("parse_mode", "HTML")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", r.apiURL, r.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram report error: %s", resp.Status)
	}
	return nil
}

func formatReport(report domain.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>News Bot Report</b>\n")
	fmt.Fprintf(&b, "%s | Slot %d\n\n", report.Date, report.Slot)

	fmt.Fprintf(&b, "<b>This Cycle</b>\n")
	fmt.Fprintf(&b, "• Status: %s\n", strings.ToUpper(string(report.Status)))
	fmt.Fprintf(&b, "• Posts Sent: %d\n\n", report.PostsSent)

	fmt.Fprintf(&b, "<b>Today's Total: %d</b>\n", report.DailyTotal)
	fmt.Fprintf(&b, "<b>All-Time: %d</b>\n\n", report.AllTimeTotal)

	fmt.Fprintf(&b, "<b>Source Breakdown</b>\n")
	if len(report.SourceCounts) == 0 {
		b.WriteString("• No new posts this cycle\n")
	} else {
		sources := make([]string, 0, len(report.SourceCounts))
		for source := range report.SourceCounts {
			sources = append(sources, source)
		}
		sort.Strings(sources)
		for _, source := range sources {
			fmt.Fprintf(&b, "• <b>%s:</b> %d\n", html.EscapeString(source), report.SourceCounts[source])
		}
	}

	fmt.Fprintf(&b, "\n<b>System Health</b>\n")
	warnings := report.HealthWarnings
	if report.Error != "" {
		warnings = append([]string{"Error: " + clip(html.EscapeString(report.Error), 100)}, warnings...)
	}
	if len(warnings) == 0 {
		b.WriteString("All systems operational")
	} else {
		for _, w := range warnings {
			b.WriteString(w + "\n")
		}
	}

	return b.String()
}
