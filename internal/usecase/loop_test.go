package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsBot/internal/slotclock"
)

type recordingRunner struct {
	stats     *fakeStatsStore
	runs      []int
	scheduled []time.Time
	err       error
}

func (r *recordingRunner) RunSlot(_ context.Context, date string, slot int, scheduledAt time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, slot)
	r.scheduled = append(r.scheduled, scheduledAt)
	// Mirror the real cycle, which always advances the cursor.
	return r.stats.MarkSlotDone(context.Background(), date, slot)
}

func newLoopFixture(t *testing.T, lastDone int) (*Loop, *recordingRunner, *fakeStatsStore) {
	t.Helper()

	slots, err := slotclock.New(4, time.UTC)
	require.NoError(t, err)

	stats := newFakeStatsStore()
	require.NoError(t, stats.EnsureDailyRow(context.Background(), testDate))
	stats.daily[testDate].LastSlotDone = lastDone

	runner := &recordingRunner{stats: stats}
	loop := NewLoop(runner, stats, fixedClock{at: testNow}, slots, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return loop, runner, stats
}

func TestTickRunsCurrentSlotWhenCaughtUp(t *testing.T) {
	// 14:05 with 4h slots is slot 3; slots 0-2 already done.
	loop, runner, _ := newLoopFixture(t, 2)

	wait, err := loop.tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{3}, runner.runs)
	// Next boundary is 16:00, 1h55m away.
	assert.Equal(t, 115*time.Minute, wait)
}

func TestTickCatchesUpOneSlotPerWake(t *testing.T) {
	loop, runner, stats := newLoopFixture(t, 0)

	// Wake 1 and 2 each process one missed slot with a short re-wake.
	for _, want := range []int{1, 2} {
		wait, err := loop.tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, wait)
		assert.Equal(t, want, stats.daily[testDate].LastSlotDone)
	}

	// Wake 3 reaches the current slot and rests until the boundary.
	wait, err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 115*time.Minute, wait)

	assert.Equal(t, []int{1, 2, 3}, runner.runs, "missed slots run strictly in order")

	// Each caught-up run carries its own slot's boundary, not the wake time's.
	boundary := func(hour int) time.Time {
		return time.Date(2025, time.March, 10, hour, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, []time.Time{boundary(4), boundary(8), boundary(12)}, runner.scheduled)
}

func TestTickIdlesWhenDayIsDone(t *testing.T) {
	loop, runner, _ := newLoopFixture(t, 3)

	wait, err := loop.tick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, runner.runs)
	assert.Equal(t, 115*time.Minute, wait)
}

func TestTickFreshDayStartsFromSlotZero(t *testing.T) {
	// No daily row at all: the default cursor of -1 drives catch-up
	// from the first slot of the day.
	slots, err := slotclock.New(4, time.UTC)
	require.NoError(t, err)
	stats := newFakeStatsStore()
	runner := &recordingRunner{stats: stats}
	loop := NewLoop(runner, stats, fixedClock{at: testNow}, slots, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = loop.tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0}, runner.runs)
}

func TestTickStatsFailureRunsCurrentSlot(t *testing.T) {
	loop, runner, stats := newLoopFixture(t, 0)
	stats.getDailyErr = errors.New("store down")

	_, err := loop.tick(context.Background())
	require.NoError(t, err)

	// Degraded mode skips catch-up rather than re-running old slots.
	assert.Equal(t, []int{3}, runner.runs)
}

func TestTickPropagatesRunnerError(t *testing.T) {
	loop, runner, _ := newLoopFixture(t, 2)
	runner.err = errors.New("cycle exploded")

	_, err := loop.tick(context.Background())
	assert.ErrorContains(t, err, "cycle exploded")
}
