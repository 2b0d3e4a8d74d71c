// Package runlock provides per-(date, slot) mutual exclusion across bot
// instances, backed by the run store's uniqueness constraint.
package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

const defaultStaleAfter = 2 * time.Hour

// Manager claims and releases slot runs. A claim is the insert of a
// started RunRecord; losing the insert race means inspecting the winner
// instead of assuming failure.
type Manager struct {
	store      ports.RunStore
	clock      ports.Clock
	staleAfter time.Duration
	logger     *slog.Logger
}

// New builds a manager; staleAfter <= 0 selects the 2h default.
func New(store ports.RunStore, clock ports.Clock, staleAfter time.Duration, logger *slog.Logger) *Manager {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, clock: clock, staleAfter: staleAfter, logger: logger}
}

// Claim attempts to take ownership of (date, slot). It returns the run id
// on success and "" when the slot is already handled: a terminal record,
// or a live claim younger than the staleness threshold. A started record
// older than the threshold (or with an unreadable start time) is taken
// over so a crashed worker cannot block the slot forever.
func (m *Manager) Claim(ctx context.Context, date string, slot int, scheduledAt time.Time) (string, error) {
	now := m.clock.Now()
	rec := domain.RunRecord{
		ID:          uuid.NewString(),
		Date:        date,
		Slot:        slot,
		Status:      domain.RunStarted,
		ScheduledAt: scheduledAt,
		StartedAt:   now,
	}

	inserted, err := m.store.InsertRun(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("insert run %s/%d: %w", date, slot, err)
	}
	if inserted {
		return rec.ID, nil
	}

	existing, err := m.store.GetRun(ctx, date, slot)
	if err != nil {
		return "", fmt.Errorf("inspect run %s/%d: %w", date, slot, err)
	}

	switch existing.Status {
	case domain.RunSuccess, domain.RunFailed:
		m.logger.Info("slot already finished", "date", date, "slot", slot, "status", existing.Status)
		return "", nil
	}

	// A zero StartedAt means the stored timestamp could not be read;
	// treat it as stale rather than blocking forever.
	if !existing.StartedAt.IsZero() && now.Sub(existing.StartedAt) <= m.staleAfter {
		m.logger.Info("slot run in progress elsewhere", "date", date, "slot", slot, "started_at", existing.StartedAt)
		return "", nil
	}

	if err := m.store.TakeOverRun(ctx, existing.ID, now); err != nil {
		return "", fmt.Errorf("take over run %s/%d: %w", date, slot, err)
	}
	m.logger.Warn("took over stale slot run", "date", date, "slot", slot, "previous_start", existing.StartedAt)
	return existing.ID, nil
}

// Release moves the run to its terminal status with the cycle's outcome.
// Terminal records are never reclaimed, so release must happen on every
// path, including failed runs.
func (m *Manager) Release(ctx context.Context, runID string, status domain.RunStatus, postsSent int, sourceCounts map[string]int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	if err := m.store.FinishRun(ctx, runID, status, m.clock.Now(), postsSent, sourceCounts, msg); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}
