package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
	"NewsBot/internal/slotclock"
)

const errorBackoff = 2 * time.Minute

// slotRunner is what the loop drives; satisfied by *Orchestrator.
type slotRunner interface {
	RunSlot(ctx context.Context, date string, slot int, scheduledAt time.Time) error
}

// Loop is the single background driver: wake, run the next pending slot,
// sleep until the following boundary. Missed slots are processed strictly
// in increasing order, one per wake, so downtime never reorders work.
type Loop struct {
	runner slotRunner
	stats  ports.StatsStore
	clock  ports.Clock
	slots  slotclock.Clock
	logger *slog.Logger
}

// NewLoop builds the slot loop.
func NewLoop(runner slotRunner, stats ports.StatsStore, clock ports.Clock, slots slotclock.Clock, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{runner: runner, stats: stats, clock: clock, slots: slots, logger: logger}
}

// Run blocks until ctx is cancelled. Errors never escape a wake cycle;
// they are logged and followed by a bounded backoff.
func (l *Loop) Run(ctx context.Context) error {
	for {
		wait, err := l.tick(ctx)
		if err != nil {
			l.logger.Error("cycle error", "error", err)
			wait = errorBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tick runs at most one slot and returns how long to sleep before the
// next wake-up.
func (l *Loop) tick(ctx context.Context) (time.Duration, error) {
	now := l.clock.Now()
	date := l.slots.DateOf(now)
	current := l.slots.SlotIndex(now)

	pending, ok := l.nextPending(ctx, date, current)
	if !ok {
		// Day fully caught up; sleep to the next boundary.
		return l.untilNextSlot(now), nil
	}

	if pending < current {
		l.logger.Info("catching up missed slot", "date", date, "slot", pending, "current", current)
	}

	// The pending slot's own boundary, not the current one: a caught-up
	// run must record when it was supposed to happen.
	scheduledAt := l.slots.SlotStartOn(now, pending)
	if err := l.runner.RunSlot(ctx, date, pending, scheduledAt); err != nil {
		return 0, err
	}

	// More catch-up work may remain; wake again almost immediately,
	// otherwise rest until the boundary.
	if pending < current {
		return 5 * time.Second, nil
	}
	return l.untilNextSlot(now), nil
}

// nextPending returns the lowest slot index not yet done today, capped at
// the current slot. A stats-store failure degrades to "run the current
// slot": the run lock still guarantees at-most-once semantics.
func (l *Loop) nextPending(ctx context.Context, date string, current int) (int, bool) {
	stats, err := l.stats.GetDailyStats(ctx, date)
	if err != nil {
		l.logger.Warn("reading daily stats failed, running current slot", "error", err)
		stats = domain.DailyStats{Date: date, LastSlotDone: current - 1}
	}

	next := stats.LastSlotDone + 1
	if next > current {
		return 0, false
	}
	return next, true
}

func (l *Loop) untilNextSlot(now time.Time) time.Duration {
	wait := l.slots.NextSlotStart(now).Sub(now)
	if wait < time.Minute {
		wait = time.Minute
	}
	return wait
}
