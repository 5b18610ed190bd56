// Package serve implements the long-running service command: browser
// pool, scheduler, queue consumer and HTTP API.
package serve

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/ticketwatch/cmd/common"
	"github.com/jonesrussell/ticketwatch/internal/api"
	"github.com/jonesrussell/ticketwatch/internal/browser"
	"github.com/jonesrussell/ticketwatch/internal/cache"
	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/fetch"
	"github.com/jonesrussell/ticketwatch/internal/health"
	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/queue"
	"github.com/jonesrussell/ticketwatch/internal/scheduler"
	"github.com/jonesrussell/ticketwatch/internal/sheets"
	"github.com/jonesrussell/ticketwatch/internal/stats"
	"github.com/jonesrussell/ticketwatch/internal/storage"
)

const (
	listingRetention = 90 * 24 * time.Hour
	stateFileMaxAge  = 7 * 24 * time.Hour
)

// Command returns the serve command.
func Command(deps *common.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the listing tracker service",
		Long:  "Runs the browser pool, randomized fetch scheduler, queue consumer and HTTP API until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), deps)
		},
	}
}

func run(ctx context.Context, deps *common.Deps) error {
	cfg := deps.Config
	log := deps.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgresConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("close database", logger.Error(closeErr))
		}
	}()
	if err := storage.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	eventRepo := storage.NewEventRepository(db)
	listingRepo := storage.NewListingRepository(db)

	var listingCache *cache.ListingCache
	if cfg.Redis.Addr != "" {
		listingCache = cache.New(cfg.Redis.Addr, cfg.Redis.CacheTTL(), log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := listingCache.Ping(pingCtx); err != nil {
			log.Warn("redis unavailable, serving without cache", logger.Error(err))
			listingCache = nil
		}
		cancel()
	}

	pool := browser.NewPool(ctx, &cfg.Browser, &cfg.Site, log)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start browser pool: %w", err)
	}
	defer pool.CloseAll()

	collector := stats.NewCollector()
	pipeline := fetch.NewPipeline(pool, &cfg.Browser, &cfg.Site, log, fetch.WithRecorder(collector))

	var resultCache api.ResultCache
	if listingCache != nil {
		resultCache = listingCache
	}
	service := api.NewListingService(pipeline, resultCache, eventRepo, listingRepo, log)

	manager := scheduler.NewManager(log)
	registerJobs(manager, cfg, service, eventRepo, log)
	manager.Start(ctx)
	defer manager.Stop()

	maintenance := scheduler.NewMaintenance(log)
	registerMaintenance(ctx, maintenance, cfg, listingRepo, log)
	maintenance.Start()
	defer maintenance.Stop()

	var publisher *queue.Publisher
	var consumer *queue.Consumer
	if cfg.Kafka.Broker != "" {
		publisher = queue.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic, log)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("close publisher", logger.Error(closeErr))
			}
		}()

		consumer = queue.NewConsumer(cfg.Kafka.Broker, cfg.Kafka.Topic, cfg.App.Name, func(ctx context.Context, req queue.FetchRequested) error {
			_, err := service.GetListings(ctx, req.EventID, true)
			return err
		}, log)
		consumer.Start(ctx)
		defer func() {
			if stopErr := consumer.Stop(); stopErr != nil {
				log.Error("stop consumer", logger.Error(stopErr))
			}
		}()
	}

	checker := buildChecker(db, listingCache, pool, manager)

	srvDeps := api.Deps{
		Service:   service,
		Events:    eventRepo,
		Checker:   checker,
		Collector: collector,
		PoolStats: pool.Stats,
		Jobs:      manager.Jobs,
	}
	if listingCache != nil {
		srvDeps.CacheStats = listingCache.Stats
	}
	if publisher != nil {
		srvDeps.Publisher = publisher
	}
	server := api.NewServer(&cfg.Server, srvDeps, log)

	if err := maintenance.AddNightly("prune-rate-limiter", func() error {
		server.PruneRateLimiter()
		return nil
	}); err != nil {
		log.Error("register rate limiter prune", logger.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", logger.Error(err))
	}
	return nil
}

// registerJobs wires the recurring fetch and sheet sync jobs.
func registerJobs(manager *scheduler.Manager, cfg *config.Config, service *api.ListingService, eventRepo *storage.EventRepository, log logger.Logger) {
	fetchInterval := time.Duration(cfg.Scheduler.FetchIntervalHours * float64(time.Hour))
	err := manager.AddJob("fetch-listings", func(ctx context.Context) error {
		return fetchBatch(ctx, cfg, service, eventRepo, log)
	}, fetchInterval, cfg.Scheduler.Strategy)
	if err != nil {
		log.Error("register fetch job", logger.Error(err))
	}

	if cfg.Sheets.CSVURL == "" {
		log.Info("sheet sync disabled, no csv url configured")
		return
	}
	sheetClient := sheets.New(cfg.Sheets.CSVURL, log)
	syncInterval := time.Duration(cfg.Scheduler.SyncIntervalHours * float64(time.Hour))
	err = manager.AddJob("sync-events", func(ctx context.Context) error {
		return syncEvents(ctx, sheetClient, eventRepo, log)
	}, syncInterval, cfg.Scheduler.Strategy)
	if err != nil {
		log.Error("register sync job", logger.Error(err))
	}
}

// fetchBatch refreshes the stalest tracked events, a few per run so a
// single pass never monopolizes the pool.
func fetchBatch(ctx context.Context, cfg *config.Config, service *api.ListingService, eventRepo *storage.EventRepository, log logger.Logger) error {
	threshold := int(cfg.Scheduler.FetchIntervalHours)
	if threshold < 1 {
		threshold = 1
	}
	events, err := eventRepo.GetEventsNeedingUpdate(ctx, threshold)
	if err != nil {
		return fmt.Errorf("select events needing update: %w", err)
	}
	if len(events) == 0 {
		log.Debug("no events need updating")
		return nil
	}
	if len(events) > cfg.Scheduler.FetchBatchSize {
		events = events[:cfg.Scheduler.FetchBatchSize]
	}

	var errs []error
	for _, event := range events {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := service.GetListings(ctx, event.ViagogoID, true); err != nil {
			log.Warn("scheduled fetch failed",
				logger.String("viagogo_id", event.ViagogoID),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	log.Info("fetch batch complete",
		logger.Int("events", len(events)),
		logger.Int("failures", len(errs)))
	return errors.Join(errs...)
}

// syncEvents pulls the event roster from the sheet into the database.
func syncEvents(ctx context.Context, client *sheets.Client, eventRepo *storage.EventRepository, log logger.Logger) error {
	events, err := client.FetchEvents(ctx)
	if err != nil {
		return fmt.Errorf("fetch sheet events: %w", err)
	}
	result, err := eventRepo.SyncFromSheet(ctx, events)
	if err != nil {
		return fmt.Errorf("sync events: %w", err)
	}
	log.Info("event sync complete",
		logger.Int("inserted", result.Inserted),
		logger.Int("updated", result.Updated),
		logger.Int("untracked", result.Untracked))
	return nil
}

// registerMaintenance wires the nightly cleanup tasks.
func registerMaintenance(ctx context.Context, maintenance *scheduler.Maintenance, cfg *config.Config, listingRepo *storage.ListingRepository, log logger.Logger) {
	err := maintenance.AddNightly("prune-listings", func() error {
		taskCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		removed, err := listingRepo.PruneOlderThan(taskCtx, time.Now().Add(-listingRetention))
		if err != nil {
			return err
		}
		log.Info("pruned old listings", logger.Int64("rows", removed))
		return nil
	})
	if err != nil {
		log.Error("register listing prune", logger.Error(err))
	}

	err = maintenance.AddNightly("prune-state-files", func() error {
		removed, err := browser.PruneStateFiles(cfg.Browser.StateDir, stateFileMaxAge)
		if err != nil {
			return err
		}
		log.Info("pruned stale session state files", logger.Int("files", removed))
		return nil
	})
	if err != nil {
		log.Error("register state prune", logger.Error(err))
	}
}

func buildChecker(db *sqlx.DB, listingCache *cache.ListingCache, pool *browser.Pool, manager *scheduler.Manager) *health.Checker {
	checker := health.NewChecker()
	checker.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if listingCache != nil {
		checker.RegisterOptional("redis", listingCache.Ping)
	}
	checker.RegisterOptional("browser_pool", func(context.Context) error {
		st := pool.Stats()
		if st.MaxSessions > 0 && st.LiveSessions == 0 && st.CreationFailures > 0 {
			return fmt.Errorf("no live sessions after %d creation failures", st.CreationFailures)
		}
		return nil
	})
	checker.RegisterOptional("scheduler", func(context.Context) error {
		if len(manager.Jobs()) == 0 {
			return errors.New("no jobs registered")
		}
		return nil
	})
	return checker
}
