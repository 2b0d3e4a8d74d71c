package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsBot/internal/config"
	"NewsBot/internal/dedup"
	"NewsBot/internal/health"
	"NewsBot/internal/infrastructure/keepalive"
	"NewsBot/internal/infrastructure/rss"
	"NewsBot/internal/infrastructure/scraper"
	"NewsBot/internal/infrastructure/storage"
	"NewsBot/internal/infrastructure/telegram"
	"NewsBot/internal/infrastructure/telegraph"
	"NewsBot/internal/logging"
	"NewsBot/internal/ports"
	"NewsBot/internal/runlock"
	"NewsBot/internal/slotclock"
	"NewsBot/internal/source"
	"NewsBot/internal/usecase"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.PostgresStore
	loop   *usecase.Loop
	live   *keepalive.Server
	clock  ports.Clock
}

// New builds a runnable application instance from config.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	slots, err := slotclock.New(cfg.Scheduler.SlotWidthHours, cfg.Scheduler.Location())
	if err != nil {
		return nil, fmt.Errorf("slot layout: %w", err)
	}

	clock := systemClock{}

	registry := source.NewRegistry()
	registry.Register(rss.NewFetcher(nil))
	registry.Register(scraper.NewFetcher(nil))

	detector := dedup.New(store, dedup.Config{
		FuzzyThreshold: cfg.Dedup.FuzzyThreshold,
		Lookback:       time.Duration(cfg.Dedup.LookbackHours) * time.Hour,
	}, clock, baseLogger.With("component", "dedup"))

	lock := runlock.New(store, clock,
		time.Duration(cfg.RunLock.StaleAfterHours)*time.Hour,
		baseLogger.With("component", "runlock"))

	channels := make(map[string]string, len(cfg.Sources))
	for _, src := range cfg.Sources {
		switch src.Channel {
		case "world":
			channels[src.Code] = cfg.Telegram.WorldChannelID
		default:
			channels[src.Code] = cfg.Telegram.AnimeChannelID
		}
	}

	publisher := telegram.NewPublisher(cfg.Telegram.BotToken, channels,
		cfg.Telegram.AnimeChannelID, cfg.Telegram.DisablePreview,
		baseLogger.With("component", "telegram"))

	var republisher ports.Republisher
	if cfg.Telegraph.AccessToken != "" {
		client := telegraph.NewClient(cfg.Telegraph.Endpoint, cfg.Telegraph.AccessToken, cfg.Telegraph.AuthorName)
		republisher = telegraph.NewRepublisher(client, scraper.NewExtractor(nil))
	}

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Lock:        lock,
		Registry:    registry,
		Detector:    detector,
		Breaker:     health.NewBreaker(cfg.Breaker.FailureThreshold),
		Publisher:   publisher,
		Republisher: republisher,
		Reporter:    telegram.NewReporter(cfg.Telegram.BotToken, cfg.Telegram.AdminID, baseLogger.With("component", "reporter")),
		Posts:       store,
		Stats:       store,
		Clock:       clock,
		SlotClock:   slots,
		Sources:     cfg.Sources,
		Logger:      baseLogger.With("component", "orchestrator"),
	})

	loop := usecase.NewLoop(orch, store, clock, slots, baseLogger.With("component", "loop"))

	var live *keepalive.Server
	if cfg.KeepAlive.Addr != "" {
		live = keepalive.New(cfg.KeepAlive.Addr, baseLogger.With("component", "keepalive"))
	}

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		store:  store,
		loop:   loop,
		live:   live,
		clock:  clock,
	}, nil
}

// Run migrates storage, starts the liveness listener, and blocks in the
// slot loop until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}
	if err := a.store.InitBotStats(ctx, a.clock.Now()); err != nil {
		return fmt.Errorf("init bot stats: %w", err)
	}

	if a.live != nil {
		a.live.Start(ctx)
	}

	a.logger.Info("started",
		"slots_per_day", 24/a.cfg.Scheduler.SlotWidthHours,
		"timezone", a.cfg.Scheduler.Timezone,
		"sources", len(a.cfg.Sources))

	return a.loop.Run(ctx)
}
