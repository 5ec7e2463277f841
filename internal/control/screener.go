// Package control assembles the screening pipeline and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"

	"jobsieve/internal/core/config"
	"jobsieve/internal/core/domain"
	"jobsieve/internal/core/status"
	"jobsieve/internal/infra/classifier"
	"jobsieve/internal/infra/notify"
	"jobsieve/internal/infra/source"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/infra/storage/memory"
	"jobsieve/internal/infra/storage/postgres"
	redisstore "jobsieve/internal/infra/storage/redis"
	"jobsieve/internal/screening/cache"
	"jobsieve/internal/screening/gate"
	"jobsieve/internal/screening/gateway"
	"jobsieve/internal/screening/health"
	"jobsieve/internal/screening/metrics"
	"jobsieve/internal/screening/prefilter"
	"jobsieve/internal/screening/queue"
	"jobsieve/internal/screening/recovery"
)

// Screener is the main application struct that wires the screening pipeline
// and manages its lifecycle.
type Screener struct {
	cfg     *config.AppConfig
	store   storage.Store
	db      *postgres.DB
	redis   *redisstore.Client
	cache   cache.Cache
	gate    *gate.Gate
	gw      *gateway.Gateway
	queue   *queue.Queue
	sweeper *recovery.Sweeper
	server  *health.Server
	cron    *cron.Cron
	log     *slog.Logger
}

// New creates a Screener with all dependencies initialized.
func New(cfg *config.AppConfig, logger *slog.Logger) (*Screener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Initialize the storage engine.
	store, db, redisClient, pinger, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	// 2. Status manager; the transition callback feeds metrics and the
	// audit log for every successful state change.
	statusMgr := status.NewManager(store.Postings, logger)
	statusMgr.SetTransitionCallback(func(id string, t status.Transition) {
		metrics.StatusTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
		logger.Debug("status transition",
			"posting_id", id,
			"from", string(t.From),
			"to", string(t.To),
			"reason", t.Reason,
		)
	})

	// 3. Processed cache and pause gate.
	processedCache := cache.NewMemoryCache(store.Analyses, logger)
	pauseGate := gate.New()

	// 4. Analysis gateway behind pre-filter, breaker and retry.
	profile := cfg.Profile.Domain()
	filter := prefilter.New(profile, 1)
	gw := gateway.New(gateway.Config{
		Classifier: classifier.NewClient(
			cfg.Classifier.BaseURL,
			cfg.Classifier.APIKey,
			cfg.Classifier.Model,
			cfg.Classifier.Timeout,
			nil,
		),
		Analyses:         store.Analyses,
		Filter:           filter,
		Profile:          profile,
		Logger:           logger,
		Threshold:        cfg.Classifier.Threshold,
		MaxAttempts:      cfg.Classifier.MaxAttempts,
		InitialBackoff:   cfg.Classifier.InitialBackoff,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	// 5. Notifier: Telegram when configured, log sink otherwise.
	var notifier notify.Notifier
	if cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// 6. Queue with its worker pool.
	q := queue.New(queue.Config{
		Postings:      store.Postings,
		Analyses:      store.Analyses,
		Cache:         processedCache,
		Status:        statusMgr,
		Analyzer:      gw,
		Gate:          pauseGate,
		Notifier:      notifier,
		Logger:        logger,
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		DrainTimeout:  cfg.Breaker.DrainTimeout,
	})

	// 7. Recovery sweeper.
	sweeper := recovery.New(recovery.Config{
		Postings:     store.Postings,
		Analyses:     store.Analyses,
		Cache:        processedCache,
		Status:       statusMgr,
		Filter:       filter,
		Queue:        q,
		Gate:         pauseGate,
		Checker:      source.NewHTTPChecker(cfg.Source.BaseURL, cfg.Source.Timeout, nil),
		Logger:       logger,
		BreakerState: gw.BreakerState,
		Interval:     cfg.Recovery.Interval,
		RetryWindow:  cfg.Recovery.RetryWindow,
	})

	// 8. Health monitor and ops server.
	healthCfg := health.Config{
		Pinger:        pinger,
		BreakerState:  gw.BreakerState,
		Queue:         q,
		Control:       pauseGate,
		Cache:         processedCache,
		LastSweep:     sweeper.LastSweep,
		SweepInterval: cfg.Recovery.Interval,
		Logger:        logger,
		Port:          cfg.Server.Port,
	}
	server := health.NewServer(health.NewMonitor(healthCfg), healthCfg)

	// 9. Nightly cache rebuild.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Cache.RebuildCron, func() {
		if err := processedCache.Rebuild(context.Background()); err != nil {
			logger.Error("scheduled cache rebuild failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cache rebuild schedule %q: %w", cfg.Cache.RebuildCron, err)
	}

	return &Screener{
		cfg:     cfg,
		store:   store,
		db:      db,
		redis:   redisClient,
		cache:   processedCache,
		gate:    pauseGate,
		gw:      gw,
		queue:   q,
		sweeper: sweeper,
		server:  server,
		cron:    scheduler,
		log:     logger,
	}, nil
}

// openStore picks the storage engine. An explicit store.driver wins;
// otherwise the first configured URL decides, falling back to memory.
func openStore(cfg *config.AppConfig, logger *slog.Logger) (storage.Store, *postgres.DB, *redisstore.Client, storage.Pinger, error) {
	driver := cfg.Store.Driver
	if driver == "" {
		switch {
		case cfg.Database.URL != "":
			driver = "postgres"
		case cfg.Redis.URL != "":
			driver = "redis"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "postgres":
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return storage.Store{}, nil, nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		// Goose needs the raw *sql.DB that sqlx wraps; migrations live in
		// the migrations folder relative to CWD.
		if err := goose.SetDialect("postgres"); err != nil {
			return storage.Store{}, nil, nil, nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return storage.Store{}, nil, nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		logger.Info("using postgres store")
		return postgres.NewStore(db), db, nil, db, nil

	case "redis":
		client, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return storage.Store{}, nil, nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		logger.Info("using redis store")
		return redisstore.NewStore(client), nil, client, client, nil

	default:
		ms := memory.NewMemoryStorage()
		store := storage.Store{
			Postings: memory.NewPostingRepo(ms),
			Analyses: memory.NewAnalysisRepo(ms),
		}
		logger.Info("using memory store")
		return store, nil, nil, ms, nil
	}
}

// Start brings the pipeline up: ops server, cache warm, queue restore,
// workers, sweeper and the rebuild schedule.
func (s *Screener) Start(ctx context.Context) error {
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	// Warm the processed cache; a failed warm is not fatal, lookups fall
	// back to the store until the next scheduled rebuild.
	if err := s.cache.Rebuild(ctx); err != nil {
		s.log.Warn("initial cache rebuild failed", "error", err)
	}

	if s.cfg.Queue.RestoreOnStart {
		s.restoreQueue(ctx)
	}

	if err := s.queue.Start(ctx); err != nil {
		return err
	}
	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}
	s.cron.Start()

	s.log.Info("screener started", "port", s.cfg.Server.Port)
	return nil
}

// restoreQueue re-admits postings a previous run left pending. Processed
// checks are skipped; the worker reconciles any record that already has a
// stored analysis instead of silently stranding it in queued.
func (s *Screener) restoreQueue(ctx context.Context) {
	restored := 0
	for _, st := range []domain.Status{domain.StatusNew, domain.StatusQueued} {
		postings, err := s.store.Postings.FindByStatus(ctx, st)
		if err != nil {
			s.log.Error("failed to list postings for restore", "status", string(st), "error", err)
			continue
		}
		for _, p := range postings {
			ok, err := s.queue.Enqueue(ctx, p, queue.SkipProcessedCheck())
			if err != nil {
				s.log.Warn("failed to restore posting", "posting_id", p.ID, "error", err)
				continue
			}
			if ok {
				restored++
			}
		}
	}
	if restored > 0 {
		s.log.Info("restored pending postings into queue", "count", restored)
	}
}

// Stop tears the pipeline down in reverse order. The queue downgrades
// anything still waiting to skipped before its workers exit.
func (s *Screener) Stop(ctx context.Context) error {
	s.log.Info("stopping screener")

	cronDone := s.cron.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
	}

	s.sweeper.Stop()

	if err := s.queue.Stop(ctx); err != nil {
		s.log.Warn("queue stop failed", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("failed to close redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("failed to close db", "error", err)
		}
	}

	return s.server.Stop(ctx)
}

// Enqueue admits one posting for processing.
func (s *Screener) Enqueue(ctx context.Context, p *domain.Posting) (bool, error) {
	return s.queue.Enqueue(ctx, p)
}

// EnqueueBatch admits a batch and reports how many were accepted.
func (s *Screener) EnqueueBatch(ctx context.Context, postings []*domain.Posting) (int, error) {
	return s.queue.EnqueueBatch(ctx, postings)
}

// QueueSize reports the number of postings waiting or in flight.
func (s *Screener) QueueSize() int {
	return s.queue.Size()
}

// QueueIsEmpty reports whether nothing is waiting or in flight.
func (s *Screener) QueueIsEmpty() bool {
	return s.queue.IsEmpty()
}

// Pause suspends processing. Returns true if the call changed the state.
func (s *Screener) Pause() bool {
	return s.gate.Pause()
}

// Resume restores processing. Returns true if the call changed the state.
func (s *Screener) Resume() bool {
	return s.gate.Resume()
}

// BreakerState reports the classifier circuit state.
func (s *Screener) BreakerState() gateway.BreakerState {
	return s.gw.BreakerState()
}
