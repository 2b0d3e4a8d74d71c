package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsBot/internal/config"
	"NewsBot/internal/dedup"
	"NewsBot/internal/domain"
	"NewsBot/internal/health"
	"NewsBot/internal/normalize"
	"NewsBot/internal/ports"
	"NewsBot/internal/runlock"
	"NewsBot/internal/slotclock"
	"NewsBot/internal/source"
)

// OrchestratorDeps wires all driven adapters into one cycle runner.
type OrchestratorDeps struct {
	Lock        *runlock.Manager
	Registry    *source.Registry
	Detector    *dedup.Detector
	Breaker     *health.Breaker
	Publisher   ports.Publisher
	Republisher ports.Republisher
	Reporter    ports.Reporter
	Posts       ports.PostStore
	Stats       ports.StatsStore
	Clock       ports.Clock
	SlotClock   slotclock.Clock
	Sources     []config.SourceConfig
	Logger      *slog.Logger
}

// Orchestrator drives one scheduled cycle end to end: claim the slot,
// fetch, filter, publish, record, release, report.
type Orchestrator struct {
	deps OrchestratorDeps
}

// NewOrchestrator constructs the cycle runner.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps}
}

// RunSlot executes the cycle for (date, slot). The claim guarantees
// at-most-once handling; everything after the claim runs under a recover
// so the lock is always released and a report always emitted.
func (o *Orchestrator) RunSlot(ctx context.Context, date string, slot int, scheduledAt time.Time) error {
	log := o.deps.Logger.With("date", date, "slot", slot)

	runID, err := o.deps.Lock.Claim(ctx, date, slot, scheduledAt)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if runID == "" {
		// Already handled elsewhere; still advance the catch-up cursor
		// so a legitimately finished slot is never retried forever.
		if err := o.deps.Stats.MarkSlotDone(ctx, date, slot); err != nil {
			log.Warn("marking skipped slot done failed", "error", err)
		}
		log.Info("slot skipped, already handled")
		return nil
	}

	log.Info("slot claimed", "run_id", runID)

	status := domain.RunSuccess
	sent := 0
	sourceCounts := map[string]int{}
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				status = domain.RunFailed
				runErr = fmt.Errorf("panic in cycle: %v", r)
				log.Error("cycle panicked", "panic", r)
			}
		}()

		if cycleErr := o.runCycle(ctx, date, slot, &sent, sourceCounts, log); cycleErr != nil {
			status = domain.RunFailed
			runErr = cycleErr
		}
	}()

	if err := o.deps.Lock.Release(ctx, runID, status, sent, sourceCounts, runErr); err != nil {
		log.Error("releasing slot lock failed", "error", err)
	}
	if err := o.deps.Stats.MarkSlotDone(ctx, date, slot); err != nil {
		log.Warn("marking slot done failed", "error", err)
	}
	if err := o.deps.Stats.IncrementRunsCompleted(ctx, date); err != nil {
		log.Warn("counting completed run failed", "error", err)
	}

	o.report(ctx, date, slot, status, sent, sourceCounts, runErr, log)

	log.Info("slot finished", "status", status, "sent", sent)
	return runErr
}

// runCycle is the inside of a claimed run: fetch candidates and publish
// the previously-unseen ones.
func (o *Orchestrator) runCycle(ctx context.Context, date string, slot int, sent *int, sourceCounts map[string]int, log *slog.Logger) error {
	now := o.deps.Clock.Now()

	if err := o.deps.Stats.EnsureDailyRow(ctx, date); err != nil {
		// Counters degrade, publishing still works.
		log.Warn("ensuring daily stats row failed", "error", err)
	}
	o.deps.Detector.Load(ctx, now)

	candidates := o.fetchAll(ctx, log)
	log.Info("fetch finished", "candidates", len(candidates))

	for _, item := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Title == "" || item.ArticleURL == "" {
			continue
		}
		if !item.PublishDate.IsZero() && !o.sameLocalDay(item.PublishDate, now) {
			log.Debug("skipping old story", "title", item.Title)
			continue
		}
		if o.deps.Detector.IsDuplicate(ctx, item.Title) {
			continue
		}

		if o.publishOne(ctx, item, date, slot, log) {
			*sent++
			sourceCounts[item.Source]++
		}
	}

	return nil
}

// fetchAll queries every enabled source in config order, which keeps runs
// reproducible, and feeds outcomes back into the breaker.
func (o *Orchestrator) fetchAll(ctx context.Context, log *slog.Logger) []domain.StoryCandidate {
	var all []domain.StoryCandidate
	for _, src := range o.deps.Sources {
		if !o.deps.Breaker.CanCall(src.Code) {
			log.Warn("source circuit open, skipping", "source", src.Code)
			continue
		}

		fetcher, err := o.deps.Registry.Resolve(src.Fetcher)
		if err != nil {
			log.Error("source misconfigured", "source", src.Code, "error", err)
			continue
		}

		items, err := fetcher.Fetch(ctx, ports.FetchRequest{
			SourceCode: src.Code,
			URL:        src.URL,
			Category:   src.Category,
			Options:    src.Options,
		})
		if err != nil {
			o.deps.Breaker.RecordFailure(src.Code)
			log.Warn("fetch failed", "source", src.Code, "error", err)
			continue
		}

		o.deps.Breaker.RecordSuccess(src.Code)
		log.Debug("source fetched", "source", src.Code, "items", len(items))
		all = append(all, items...)
	}
	return all
}

// publishOne records the attempt, optionally republishes the full text,
// delivers the message, and settles the record's terminal status.
// Returns true only for a completed send.
func (o *Orchestrator) publishOne(ctx context.Context, item domain.StoryCandidate, date string, slot int, log *slog.Logger) bool {
	key := normalize.Key(item.Title)
	rec := domain.PostRecord{
		NormalizedKey: key,
		FullTitle:     item.Title,
		Source:        item.Source,
		ArticleURL:    item.ArticleURL,
		Category:      item.Category,
		ChannelType:   o.channelType(item.Source),
		PostedDate:    date,
		PostedAt:      o.deps.Clock.Now(),
		Slot:          slot,
		Status:        domain.PostAttempted,
	}

	// Unrecorded publishes risk unbounded duplicates across restarts,
	// so a failed attempt record means skipping the story this cycle.
	if err := o.deps.Posts.InsertPost(ctx, rec); err != nil {
		log.Warn("recording attempt failed, skipping story", "title", item.Title, "error", err)
		return false
	}

	if o.deps.Republisher != nil {
		if pageURL, err := o.deps.Republisher.Republish(ctx, item); err != nil {
			log.Debug("republish failed, linking original", "title", item.Title, "error", err)
		} else {
			item.TelegraphURL = pageURL
			if err := o.deps.Posts.UpdateTelegraphURL(ctx, key, date, pageURL); err != nil {
				log.Warn("storing telegraph url failed", "error", err)
			}
		}
	}

	if err := o.deps.Publisher.Publish(ctx, item); err != nil {
		log.Warn("publish failed", "title", item.Title, "error", err)
		if err := o.deps.Posts.UpdatePostStatus(ctx, key, date, domain.PostFailed); err != nil {
			log.Warn("marking post failed errored", "error", err)
		}
		return false
	}

	if err := o.deps.Posts.UpdatePostStatus(ctx, key, date, domain.PostSent); err != nil {
		log.Warn("marking post sent errored", "error", err)
	}
	o.deps.Detector.MarkPosted(item.Title)
	if err := o.deps.Stats.IncrementPostCounters(ctx, date); err != nil {
		log.Warn("incrementing counters failed", "error", err)
	}

	log.Info("story published", "title", item.Title, "source", item.Source)
	return true
}

func (o *Orchestrator) report(ctx context.Context, date string, slot int, status domain.RunStatus, sent int, sourceCounts map[string]int, runErr error, log *slog.Logger) {
	if o.deps.Reporter == nil {
		return
	}

	report := domain.RunReport{
		Date:         date,
		Slot:         slot,
		Status:       status,
		PostsSent:    sent,
		SourceCounts: sourceCounts,
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if stats, err := o.deps.Stats.GetDailyStats(ctx, date); err == nil {
		report.DailyTotal = stats.PostsCount
	}
	if total, err := o.deps.Stats.AllTimeTotal(ctx); err == nil {
		report.AllTimeTotal = total
	}
	for src, failures := range o.deps.Breaker.Tripped() {
		report.HealthWarnings = append(report.HealthWarnings,
			fmt.Sprintf("Source Down: %s (%d failures)", src, failures))
	}

	if err := o.deps.Reporter.SendReport(ctx, report); err != nil {
		log.Warn("sending run report failed", "error", err)
	}
}

// channelType buckets a source by its configured channel for lookback
// scoping.
func (o *Orchestrator) channelType(sourceCode string) string {
	for _, src := range o.deps.Sources {
		if src.Code == sourceCode && src.Channel != "" {
			return src.Channel
		}
	}
	return "anime"
}

func (o *Orchestrator) sameLocalDay(a, b time.Time) bool {
	return o.deps.SlotClock.DateOf(a) == o.deps.SlotClock.DateOf(b)
}
