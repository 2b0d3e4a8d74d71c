package ports

import (
	"context"
	"time"

	"NewsBot/internal/domain"
)

// Fetcher pulls candidate stories from a single configured source.
// Transient network failures surface as errors; "no new stories" is an
// empty slice, not an error.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]domain.StoryCandidate, error)
}

// FetchRequest carries the per-source parameters a fetcher needs.
type FetchRequest struct {
	SourceCode string
	URL        string
	Category   string
	Options    map[string]string
}

// Publisher delivers one story to the chat platform. Timeouts and retries
// are internal to the implementation.
type Publisher interface {
	Publish(ctx context.Context, item domain.StoryCandidate) error
}

// Republisher mirrors the full article text to a paste-like hosting
// service and returns the hosted URL.
type Republisher interface {
	Republish(ctx context.Context, item domain.StoryCandidate) (string, error)
}

// Reporter emits the end-of-cycle summary to an operator channel.
type Reporter interface {
	SendReport(ctx context.Context, report domain.RunReport) error
}

// PostStore persists publish attempts and answers dedup lookback queries.
type PostStore interface {
	InsertPost(ctx context.Context, rec domain.PostRecord) error
	UpdatePostStatus(ctx context.Context, key, date string, status domain.PostStatus) error
	UpdateTelegraphURL(ctx context.Context, key, date, telegraphURL string) error
	RecentKeys(ctx context.Context, since time.Time, channelType string) ([]string, error)
	KeyPostedSince(ctx context.Context, key string, since time.Time, channelType string) (bool, error)
}

// RunStore persists run records. InsertRun reports whether the row was
// actually inserted; a conflict on (date, slot) is not an error, callers
// inspect the existing record instead.
type RunStore interface {
	InsertRun(ctx context.Context, rec domain.RunRecord) (bool, error)
	GetRun(ctx context.Context, date string, slot int) (domain.RunRecord, error)
	TakeOverRun(ctx context.Context, id string, startedAt time.Time) error
	FinishRun(ctx context.Context, id string, status domain.RunStatus, finishedAt time.Time, postsSent int, sourceCounts map[string]int, runErr string) error
}

// StatsStore maintains daily and all-time counters.
type StatsStore interface {
	InitBotStats(ctx context.Context, startedAt time.Time) error
	EnsureDailyRow(ctx context.Context, date string) error
	IncrementPostCounters(ctx context.Context, date string) error
	IncrementRunsCompleted(ctx context.Context, date string) error
	MarkSlotDone(ctx context.Context, date string, slot int) error
	GetDailyStats(ctx context.Context, date string) (domain.DailyStats, error)
	AllTimeTotal(ctx context.Context) (int64, error)
}

// Clock supplies wall-clock time in the bot's single local timezone, so
// tests can pin date and slot arithmetic.
type Clock interface {
	Now() time.Time
}
