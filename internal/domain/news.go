package domain

import "time"

// StoryCandidate is a story as returned by a fetch collaborator, before
// deduplication. Candidates are ephemeral; accepted ones become PostRecords.
type StoryCandidate struct {
	Title        string
	Source       string
	ArticleURL   string
	SummaryText  string
	ImageURL     string
	PublishDate  time.Time
	Category     string
	TelegraphURL string
}

// PostStatus tracks the lifecycle of a publish attempt.
type PostStatus string

const (
	PostAttempted PostStatus = "attempted"
	PostSent      PostStatus = "sent"
	PostFailed    PostStatus = "failed"
)

// PostRecord is the persisted trace of a publish attempt, keyed by
// (normalized key, posted date). Created when a candidate passes dedup,
// mutated once when the attempt resolves, never deleted here.
type PostRecord struct {
	NormalizedKey string
	FullTitle     string
	Source        string
	ArticleURL    string
	TelegraphURL  string
	Category      string
	ChannelType   string
	PostedDate    string
	PostedAt      time.Time
	Slot          int
	Status        PostStatus
}

// RunStatus is the state of a (date, slot) run record.
type RunStatus string

const (
	RunStarted RunStatus = "started"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunRecord doubles as the mutual-exclusion lock for a (date, slot) pair:
// the uniqueness constraint on that pair admits at most one concurrent owner.
type RunRecord struct {
	ID           string
	Date         string
	Slot         int
	Status       RunStatus
	ScheduledAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	PostsSent    int
	SourceCounts map[string]int
	Error        string
}

// DailyStats aggregates per-calendar-date counters. LastSlotDone drives
// catch-up after downtime; it only ever moves forward.
type DailyStats struct {
	Date          string
	PostsCount    int
	RunsCompleted int
	LastSlotDone  int
	UpdatedAt     time.Time
}

// RunReport is the cycle summary handed to the reporting collaborator.
type RunReport struct {
	Date           string
	Slot           int
	Status         RunStatus
	PostsSent      int
	SourceCounts   map[string]int
	DailyTotal     int
	AllTimeTotal   int64
	HealthWarnings []string
	Error          string
}
