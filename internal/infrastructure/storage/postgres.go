// Package storage persists posts, runs, and counters in Postgres.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"NewsBot/internal/domain"
	"NewsBot/internal/ports"
)

// PostgresStore implements the post, run, and stats store ports on one
// database handle.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.PostStore  = (*PostgresStore)(nil)
	_ ports.RunStore   = (*PostgresStore)(nil)
	_ ports.StatsStore = (*PostgresStore)(nil)
)

// Open connects to Postgres and applies base pool settings.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresStore(db), nil
}

// NewPostgresStore wires an existing sql.DB handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertPost records a publish attempt.
func (s *PostgresStore) InsertPost(ctx context.Context, rec domain.PostRecord) error {
	query := `INSERT INTO posted_news
              (normalized_title, posted_date, full_title, posted_at, source, slot,
               category, status, channel_type, article_url, telegraph_url)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
              ON CONFLICT (normalized_title, posted_date) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.NormalizedKey,
		rec.PostedDate,
		rec.FullTitle,
		rec.PostedAt,
		rec.Source,
		rec.Slot,
		nullable(rec.Category),
		rec.Status,
		rec.ChannelType,
		rec.ArticleURL,
		nullable(rec.TelegraphURL),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// UpdatePostStatus transitions a recorded attempt to sent or failed.
func (s *PostgresStore) UpdatePostStatus(ctx context.Context, key, date string, status domain.PostStatus) error {
	query, args, err := s.sb.Update("posted_news").
		Set("status", status).
		Where(sq.Eq{"normalized_title": key, "posted_date": date}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	return nil
}

// UpdateTelegraphURL attaches the republished-article URL to the record.
func (s *PostgresStore) UpdateTelegraphURL(ctx context.Context, key, date, telegraphURL string) error {
	query, args, err := s.sb.Update("posted_news").
		Set("telegraph_url", telegraphURL).
		Where(sq.Eq{"normalized_title": key, "posted_date": date}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build telegraph update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update telegraph url: %w", err)
	}
	return nil
}

// RecentKeys returns normalized keys of sent posts inside the lookback
// window, scoped to one channel.
func (s *PostgresStore) RecentKeys(ctx context.Context, since time.Time, channelType string) ([]string, error) {
	builder := s.sb.Select("normalized_title").
		From("posted_news").
		Where(sq.GtOrEq{"posted_at": since}).
		Where(sq.Eq{"status": domain.PostSent})
	if channelType != "" {
		builder = builder.Where(sq.Eq{"channel_type": channelType})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return keys, nil
}

// KeyPostedSince reports whether the exact key was posted inside the
// window.
func (s *PostgresStore) KeyPostedSince(ctx context.Context, key string, since time.Time, channelType string) (bool, error) {
	builder := s.sb.Select("1").
		From("posted_news").
		Where(sq.Eq{"normalized_title": key}).
		Where(sq.GtOrEq{"posted_at": since}).
		Limit(1)
	if channelType != "" {
		builder = builder.Where(sq.Eq{"channel_type": channelType})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build key lookup: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("key lookup: %w", err)
	}
	return true, nil
}

// InsertRun claims (date, slot) through the table's uniqueness constraint.
// Losing the race is reported as inserted=false, not as an error.
func (s *PostgresStore) InsertRun(ctx context.Context, rec domain.RunRecord) (bool, error) {
	query := `INSERT INTO runs (id, date, slot, status, scheduled_at, started_at)
              VALUES ($1, $2, $3, $4, $5, $6)
              ON CONFLICT (date, slot) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Date, rec.Slot, rec.Status, rec.ScheduledAt, rec.StartedAt)
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert run result: %w", err)
	}
	return affected == 1, nil
}

// GetRun loads the run holding (date, slot). A started_at that cannot be
// scanned comes back zero, which claimants treat as stale.
func (s *PostgresStore) GetRun(ctx context.Context, date string, slot int) (domain.RunRecord, error) {
	query, args, err := s.sb.Select("id", "status", "started_at").
		From("runs").
		Where(sq.Eq{"date": date, "slot": slot}).
		ToSql()
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("build run lookup: %w", err)
	}

	rec := domain.RunRecord{Date: date, Slot: slot}
	var startedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.Status, &startedAt)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("run lookup: %w", err)
	}
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	return rec, nil
}

// TakeOverRun refreshes a stale claim's start time, keeping its id.
func (s *PostgresStore) TakeOverRun(ctx context.Context, id string, startedAt time.Time) error {
	query, args, err := s.sb.Update("runs").
		Set("started_at", startedAt).
		Set("status", domain.RunStarted).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build takeover: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("take over run: %w", err)
	}
	return nil
}

// FinishRun writes the run's terminal state and outcome counters.
func (s *PostgresStore) FinishRun(ctx context.Context, id string, status domain.RunStatus, finishedAt time.Time, postsSent int, sourceCounts map[string]int, runErr string) error {
	counts, err := json.Marshal(sourceCounts)
	if err != nil {
		return fmt.Errorf("marshal source counts: %w", err)
	}

	query, args, err := s.sb.Update("runs").
		Set("status", status).
		Set("finished_at", finishedAt).
		Set("posts_sent", postsSent).
		Set("source_counts", counts).
		Set("error", nullable(runErr)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// InitBotStats creates the singleton all-time counters row if absent.
func (s *PostgresStore) InitBotStats(ctx context.Context, startedAt time.Time) error {
	query := `INSERT INTO bot_stats (id, bot_started_at, total_posts_all_time)
              VALUES (1, $1, 0)
              ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, startedAt); err != nil {
		return fmt.Errorf("init bot stats: %w", err)
	}
	return nil
}

// EnsureDailyRow lazily creates the per-date counters row.
func (s *PostgresStore) EnsureDailyRow(ctx context.Context, date string) error {
	query := `INSERT INTO daily_stats (date, posts_count, runs_completed, last_slot_done, updated_at)
              VALUES ($1, 0, 0, -1, NOW())
              ON CONFLICT (date) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, date); err != nil {
		return fmt.Errorf("ensure daily row: %w", err)
	}
	return nil
}

// IncrementPostCounters bumps both the daily and all-time totals.
func (s *PostgresStore) IncrementPostCounters(ctx context.Context, date string) error {
	query := `UPDATE daily_stats
              SET posts_count = posts_count + 1, updated_at = NOW()
              WHERE date = $1`
	if _, err := s.db.ExecContext(ctx, query, date); err != nil {
		return fmt.Errorf("increment daily count: %w", err)
	}

	query = `UPDATE bot_stats SET total_posts_all_time = total_posts_all_time + 1 WHERE id = 1`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("increment all-time count: %w", err)
	}
	return nil
}

// MarkSlotDone advances last_slot_done; it never moves backwards. The
// upsert keeps the cursor moving even when the date's row does not exist
// yet (a slot skipped before anything else touched the day).
func (s *PostgresStore) MarkSlotDone(ctx context.Context, date string, slot int) error {
	query := `INSERT INTO daily_stats (date, posts_count, runs_completed, last_slot_done, updated_at)
              VALUES ($1, 0, 0, $2, NOW())
              ON CONFLICT (date) DO UPDATE
              SET last_slot_done = GREATEST(daily_stats.last_slot_done, EXCLUDED.last_slot_done),
                  updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, date, slot); err != nil {
		return fmt.Errorf("mark slot done: %w", err)
	}
	return nil
}

// IncrementRunsCompleted counts an actually-executed run; slots skipped
// because another process handled them do not go through here.
func (s *PostgresStore) IncrementRunsCompleted(ctx context.Context, date string) error {
	query := `INSERT INTO daily_stats (date, posts_count, runs_completed, last_slot_done, updated_at)
              VALUES ($1, 0, 1, -1, NOW())
              ON CONFLICT (date) DO UPDATE
              SET runs_completed = daily_stats.runs_completed + 1,
                  updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, date); err != nil {
		return fmt.Errorf("increment runs completed: %w", err)
	}
	return nil
}

// GetDailyStats loads the date's counters; a missing row comes back with
// LastSlotDone = -1 so catch-up starts from slot zero.
func (s *PostgresStore) GetDailyStats(ctx context.Context, date string) (domain.DailyStats, error) {
	query, args, err := s.sb.Select("posts_count", "runs_completed", "last_slot_done", "updated_at").
		From("daily_stats").
		Where(sq.Eq{"date": date}).
		ToSql()
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("build daily stats query: %w", err)
	}

	stats := domain.DailyStats{Date: date, LastSlotDone: -1}
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&stats.PostsCount, &stats.RunsCompleted, &stats.LastSlotDone, &stats.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("daily stats lookup: %w", err)
	}
	return stats, nil
}

// AllTimeTotal reads the global sent counter.
func (s *PostgresStore) AllTimeTotal(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT total_posts_all_time FROM bot_stats WHERE id = 1`).
		Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("all-time total: %w", err)
	}
	return total, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
