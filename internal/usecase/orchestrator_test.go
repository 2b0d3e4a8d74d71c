package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsBot/internal/config"
	"NewsBot/internal/dedup"
	"NewsBot/internal/domain"
	"NewsBot/internal/health"
	"NewsBot/internal/ports"
	"NewsBot/internal/runlock"
	"NewsBot/internal/slotclock"
	"NewsBot/internal/source"
)

var (
	testNow  = time.Date(2025, time.March, 10, 14, 5, 0, 0, time.UTC)
	testDate = "2025-03-10"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// fakeRunStore backs the lock manager in-memory.
type fakeRunStore struct {
	mu       sync.Mutex
	existing *domain.RunRecord
	finished []domain.RunRecord
}

func (f *fakeRunStore) InsertRun(_ context.Context, rec domain.RunRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing != nil {
		return false, nil
	}
	f.existing = &rec
	return true, nil
}

func (f *fakeRunStore) GetRun(context.Context, string, int) (domain.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing == nil {
		return domain.RunRecord{}, errors.New("no run")
	}
	return *f.existing, nil
}

func (f *fakeRunStore) TakeOverRun(_ context.Context, id string, startedAt time.Time) error {
	return nil
}

func (f *fakeRunStore) FinishRun(_ context.Context, id string, status domain.RunStatus, finishedAt time.Time, postsSent int, sourceCounts map[string]int, runErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, domain.RunRecord{
		ID: id, Status: status, FinishedAt: finishedAt,
		PostsSent: postsSent, SourceCounts: sourceCounts, Error: runErr,
	})
	return nil
}

// fakePostStore records posts and serves dedup lookbacks.
type fakePostStore struct {
	mu         sync.Mutex
	recent     []string
	insertErr  error
	inserted   []domain.PostRecord
	statuses   map[string]domain.PostStatus
	telegraphs map[string]string
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{
		statuses:   map[string]domain.PostStatus{},
		telegraphs: map[string]string{},
	}
}

func (f *fakePostStore) InsertPost(_ context.Context, rec domain.PostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rec)
	f.statuses[rec.NormalizedKey] = rec.Status
	return nil
}

func (f *fakePostStore) UpdatePostStatus(_ context.Context, key, _ string, status domain.PostStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[key] = status
	return nil
}

func (f *fakePostStore) UpdateTelegraphURL(_ context.Context, key, _, telegraphURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telegraphs[key] = telegraphURL
	return nil
}

func (f *fakePostStore) RecentKeys(context.Context, time.Time, string) ([]string, error) {
	return f.recent, nil
}

func (f *fakePostStore) KeyPostedSince(context.Context, string, time.Time, string) (bool, error) {
	return false, nil
}

func (f *fakePostStore) sentKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key, status := range f.statuses {
		if status == domain.PostSent {
			keys = append(keys, key)
		}
	}
	return keys
}

// fakeStatsStore tracks counters in memory.
type fakeStatsStore struct {
	mu           sync.Mutex
	daily        map[string]*domain.DailyStats
	allTime      int64
	getDailyErr  error
	slotsMarked  []int
	postsCounted int
	runsCounted  int
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{daily: map[string]*domain.DailyStats{}}
}

func (f *fakeStatsStore) InitBotStats(context.Context, time.Time) error { return nil }

func (f *fakeStatsStore) EnsureDailyRow(_ context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.daily[date]; !ok {
		f.daily[date] = &domain.DailyStats{Date: date, LastSlotDone: -1}
	}
	return nil
}

func (f *fakeStatsStore) IncrementPostCounters(_ context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postsCounted++
	f.allTime++
	if d, ok := f.daily[date]; ok {
		d.PostsCount++
	}
	return nil
}

func (f *fakeStatsStore) IncrementRunsCompleted(_ context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runsCounted++
	if d, ok := f.daily[date]; ok {
		d.RunsCompleted++
	}
	return nil
}

// MarkSlotDone upserts like the real store: the cursor advances even when
// nothing else created the day's row yet.
func (f *fakeStatsStore) MarkSlotDone(_ context.Context, date string, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotsMarked = append(f.slotsMarked, slot)
	d, ok := f.daily[date]
	if !ok {
		d = &domain.DailyStats{Date: date, LastSlotDone: -1}
		f.daily[date] = d
	}
	if slot > d.LastSlotDone {
		d.LastSlotDone = slot
	}
	return nil
}

func (f *fakeStatsStore) GetDailyStats(_ context.Context, date string) (domain.DailyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getDailyErr != nil {
		return domain.DailyStats{}, f.getDailyErr
	}
	if d, ok := f.daily[date]; ok {
		return *d, nil
	}
	return domain.DailyStats{Date: date, LastSlotDone: -1}, nil
}

func (f *fakeStatsStore) AllTimeTotal(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allTime, nil
}

// fakeFetcher returns canned candidates per source code.
type fakeFetcher struct {
	items map[string][]domain.StoryCandidate
	errs  map[string]error
	panic bool
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, req ports.FetchRequest) ([]domain.StoryCandidate, error) {
	if f.panic {
		panic("fetcher exploded")
	}
	if err := f.errs[req.SourceCode]; err != nil {
		return nil, err
	}
	return f.items[req.SourceCode], nil
}

// fakePublisher records deliveries and can fail selected titles.
type fakePublisher struct {
	mu        sync.Mutex
	failFor   map[string]bool
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, item domain.StoryCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[item.Title] {
		return errors.New("delivery failed")
	}
	f.published = append(f.published, item.Title)
	return nil
}

// fakeReporter captures the last report.
type fakeReporter struct {
	mu   sync.Mutex
	last *domain.RunReport
}

func (f *fakeReporter) SendReport(_ context.Context, report domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &report
	return nil
}

type fixture struct {
	orch     *Orchestrator
	runs     *fakeRunStore
	posts    *fakePostStore
	stats    *fakeStatsStore
	pub      *fakePublisher
	reporter *fakeReporter
	breaker  *health.Breaker
}

func newFixture(t *testing.T, fetcher *fakeFetcher, sources []config.SourceConfig) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := fixedClock{at: testNow}
	slots, err := slotclock.New(4, time.UTC)
	require.NoError(t, err)

	runs := &fakeRunStore{}
	posts := newFakePostStore()
	stats := newFakeStatsStore()
	pub := &fakePublisher{}
	reporter := &fakeReporter{}
	breaker := health.NewBreaker(3)

	registry := source.NewRegistry()
	registry.Register(fetcher)

	orch := NewOrchestrator(OrchestratorDeps{
		Lock:      runlock.New(runs, clock, 2*time.Hour, logger),
		Registry:  registry,
		Detector:  dedup.New(posts, dedup.Config{}, clock, logger),
		Breaker:   breaker,
		Publisher: pub,
		Reporter:  reporter,
		Posts:     posts,
		Stats:     stats,
		Clock:     clock,
		SlotClock: slots,
		Sources:   sources,
		Logger:    logger,
	})

	return &fixture{orch: orch, runs: runs, posts: posts, stats: stats, pub: pub, reporter: reporter, breaker: breaker}
}

func annSource() []config.SourceConfig {
	return []config.SourceConfig{
		{Code: "ANN", Fetcher: "fake", URL: "https://example.com/rss", Channel: "anime"},
	}
}

func TestRunSlotDedupEndToEnd(t *testing.T) {
	// Candidate 1 was already sent in a prior cycle, candidate 2 is a
	// near-duplicate of it, candidate 3 is unique: exactly one new send.
	fetcher := &fakeFetcher{items: map[string][]domain.StoryCandidate{
		"ANN": {
			{Title: "One Piece Film Red Breaks Box Office Record", Source: "ANN", ArticleURL: "https://e.com/1", PublishDate: testNow},
			{Title: "One Piece Film Red Breaks Box Office Records", Source: "ANN", ArticleURL: "https://e.com/2", PublishDate: testNow},
			{Title: "Spy x Family Season 3 Premiere Date Revealed", Source: "ANN", ArticleURL: "https://e.com/3", PublishDate: testNow},
		},
	}}
	fix := newFixture(t, fetcher, annSource())
	fix.posts.recent = []string{"one piece film red breaks box office record"}

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"Spy x Family Season 3 Premiere Date Revealed"}, fix.pub.published)
	assert.Equal(t, []string{"spy x family season 3 premiere date revealed"}, fix.posts.sentKeys())

	require.Len(t, fix.runs.finished, 1)
	release := fix.runs.finished[0]
	assert.Equal(t, domain.RunSuccess, release.Status)
	assert.Equal(t, 1, release.PostsSent)
	assert.Equal(t, map[string]int{"ANN": 1}, release.SourceCounts)
}

func TestRunSlotEmptyCycleStillSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{}
	fix := newFixture(t, fetcher, annSource())

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	require.Len(t, fix.runs.finished, 1)
	assert.Equal(t, domain.RunSuccess, fix.runs.finished[0].Status)
	assert.Equal(t, 0, fix.runs.finished[0].PostsSent)
	// The slot is marked done so catch-up never retries an empty slot, and
	// an executed run counts as completed even with nothing to post.
	assert.Contains(t, fix.stats.slotsMarked, 3)
	assert.Equal(t, 1, fix.stats.runsCounted)

	require.NotNil(t, fix.reporter.last)
	assert.Equal(t, domain.RunSuccess, fix.reporter.last.Status)
}

func TestRunSlotSkipsWhenLockHeld(t *testing.T) {
	fetcher := &fakeFetcher{items: map[string][]domain.StoryCandidate{
		"ANN": {{Title: "Should Not Publish", Source: "ANN", ArticleURL: "https://e.com/x"}},
	}}
	fix := newFixture(t, fetcher, annSource())
	fix.runs.existing = &domain.RunRecord{
		ID: "other", Status: domain.RunStarted, StartedAt: testNow.Add(-10 * time.Minute),
	}

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	assert.Empty(t, fix.pub.published)
	assert.Empty(t, fix.runs.finished)
	// Skips still advance the cursor, even on a day whose stats row does
	// not exist yet, and do not count as completed runs.
	require.Contains(t, fix.stats.slotsMarked, 3)
	assert.Equal(t, 3, fix.stats.daily[testDate].LastSlotDone)
	assert.Equal(t, 0, fix.stats.runsCounted)
}

func TestRunSlotPublishFailureContinues(t *testing.T) {
	fetcher := &fakeFetcher{items: map[string][]domain.StoryCandidate{
		"ANN": {
			{Title: "Delivery Breaks For This One", Source: "ANN", ArticleURL: "https://e.com/1", PublishDate: testNow},
			{Title: "This One Goes Through Fine", Source: "ANN", ArticleURL: "https://e.com/2", PublishDate: testNow},
		},
	}}
	fix := newFixture(t, fetcher, annSource())
	fix.pub.failFor = map[string]bool{"Delivery Breaks For This One": true}

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"This One Goes Through Fine"}, fix.pub.published)
	assert.Equal(t, domain.PostFailed, fix.posts.statuses["delivery breaks for this one"])
	assert.Equal(t, domain.PostSent, fix.posts.statuses["this one goes through fine"])

	// A publish failure is per-candidate, not a failed run.
	require.Len(t, fix.runs.finished, 1)
	assert.Equal(t, domain.RunSuccess, fix.runs.finished[0].Status)
	assert.Equal(t, 1, fix.runs.finished[0].PostsSent)
}

func TestRunSlotRecordFailureSkipsPublish(t *testing.T) {
	fetcher := &fakeFetcher{items: map[string][]domain.StoryCandidate{
		"ANN": {{Title: "Unrecordable Story", Source: "ANN", ArticleURL: "https://e.com/1", PublishDate: testNow}},
	}}
	fix := newFixture(t, fetcher, annSource())
	fix.posts.insertErr = errors.New("store down")

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	assert.Empty(t, fix.pub.published, "unrecorded stories must not be published")
	assert.Equal(t, 0, fix.runs.finished[0].PostsSent)
}

func TestRunSlotSkipsStaleStories(t *testing.T) {
	fetcher := &fakeFetcher{items: map[string][]domain.StoryCandidate{
		"ANN": {
			{Title: "Yesterday Story", Source: "ANN", ArticleURL: "https://e.com/1", PublishDate: testNow.Add(-26 * time.Hour)},
			{Title: "Today Story", Source: "ANN", ArticleURL: "https://e.com/2", PublishDate: testNow},
			{Title: "Undated Story", Source: "ANN", ArticleURL: "https://e.com/3"},
		},
	}}
	fix := newFixture(t, fetcher, annSource())

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.NoError(t, err)

	// Undated stories pass the freshness filter; dated old ones do not.
	assert.Equal(t, []string{"Today Story", "Undated Story"}, fix.pub.published)
}

func TestRunSlotFetchFailureTripsBreaker(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{"ANN": errors.New("connection reset")}}
	fix := newFixture(t, fetcher, annSource())

	for i := 0; i < 3; i++ {
		date := testDate
		slot := i
		require.NoError(t, fix.orch.RunSlot(context.Background(), date, slot, testNow))
		fix.runs.existing = nil // free the lock for the next slot
	}

	assert.False(t, fix.breaker.CanCall("ANN"), "3 fetch failures should open the circuit")

	require.NotNil(t, fix.reporter.last)
	require.Len(t, fix.reporter.last.HealthWarnings, 1)
	assert.Contains(t, fix.reporter.last.HealthWarnings[0], "ANN")
}

func TestRunSlotPanicReleasesLockAsFailed(t *testing.T) {
	fetcher := &fakeFetcher{panic: true}
	fix := newFixture(t, fetcher, annSource())

	err := fix.orch.RunSlot(context.Background(), testDate, 3, testNow)
	require.Error(t, err)

	require.Len(t, fix.runs.finished, 1, "lock must be released on the panic path")
	release := fix.runs.finished[0]
	assert.Equal(t, domain.RunFailed, release.Status)
	assert.Contains(t, release.Error, "panic")

	require.NotNil(t, fix.reporter.last, "report must still be emitted")
	assert.Equal(t, domain.RunFailed, fix.reporter.last.Status)
}
