// Package dedup decides whether a candidate story was already published.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"NewsBot/internal/normalize"
	"NewsBot/internal/ports"
)

const (
	defaultFuzzyThreshold = 0.85
	defaultLookback       = 48 * time.Hour
)

// Config tunes the detector. Thresholds and windows vary between
// deployments, so they are settings rather than constants.
type Config struct {
	FuzzyThreshold float64       // similarity ratio above which titles are the same story
	Lookback       time.Duration // how far back the persistent check reaches
	ChannelType    string        // scopes persistent lookups to one channel
}

// Detector layers three checks: exact in-memory, fuzzy in-memory, and a
// persistent lookback query. The in-memory set is advisory per-process
// cache; cross-process correctness rests on the store check and slot lock.
type Detector struct {
	store  ports.PostStore
	clock  ports.Clock
	logger *slog.Logger
	cfg    Config

	mu   sync.Mutex
	seen map[string]struct{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New builds a detector; zero config fields fall back to defaults.
func New(store ports.PostStore, cfg Config, clock ports.Clock, logger *slog.Logger) *Detector {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = defaultFuzzyThreshold
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:  store,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		seen:   map[string]struct{}{},
	}
}

// Load rebuilds the in-memory set from the store's lookback window, which
// is also how keys older than the window leave the cache in a long-running
// process. A store failure leaves the current set as-is; the detector
// still works memory-only.
func (d *Detector) Load(ctx context.Context, now time.Time) {
	if d.store == nil {
		return
	}

	keys, err := d.store.RecentKeys(ctx, now.Add(-d.cfg.Lookback), d.cfg.ChannelType)
	if err != nil {
		d.logger.Warn("loading posted keys failed, staying memory-only", "error", err)
		return
	}

	fresh := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			fresh[k] = struct{}{}
		}
	}

	d.mu.Lock()
	d.seen = fresh
	d.mu.Unlock()

	d.logger.Debug("posted keys loaded", "count", len(fresh))
}

// IsDuplicate reports whether the title matches an already-posted story.
// Checks short-circuit in order: exact, fuzzy, persistent store. A title
// whose normalized key is empty is always new; collapsing unrelated
// prefix-only titles onto one key would be worse than an occasional repeat.
func (d *Detector) IsDuplicate(ctx context.Context, title string) bool {
	key := normalize.Key(title)
	if key == "" {
		return false
	}

	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		d.logger.Info("duplicate (exact)", "title", clip(title))
		return true
	}
	for existing := range d.seen {
		if ratio(key, existing) > d.cfg.FuzzyThreshold {
			d.mu.Unlock()
			d.logger.Info("duplicate (fuzzy)", "title", clip(title), "match", existing)
			return true
		}
	}
	d.mu.Unlock()

	if d.store == nil {
		return false
	}

	since := d.clock.Now().Add(-d.cfg.Lookback)
	hit, err := d.store.KeyPostedSince(ctx, key, since, d.cfg.ChannelType)
	if err != nil {
		// Availability over strict global consistency: fall back to the
		// in-memory verdict instead of failing the pipeline.
		d.logger.Warn("store duplicate check failed", "error", err)
		return false
	}
	if hit {
		d.MarkPosted(title)
		d.logger.Info("duplicate (store)", "title", clip(title))
		return true
	}

	return false
}

// MarkPosted records the title's key in the in-memory set after a send.
func (d *Detector) MarkPosted(title string) {
	key := normalize.Key(title)
	if key == "" {
		return
	}
	d.mu.Lock()
	d.seen[key] = struct{}{}
	d.mu.Unlock()
}

// ratio converts edit distance into a 0-1 similarity score over runes.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func clip(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
