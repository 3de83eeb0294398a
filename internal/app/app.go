// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/api"
	"github.com/JakeFAU/crawlctl/internal/clock/system"
	"github.com/JakeFAU/crawlctl/internal/config"
	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/id/uuid"
	"github.com/JakeFAU/crawlctl/internal/logbuffer"
	"github.com/JakeFAU/crawlctl/internal/orchestrator"
	memorypublisher "github.com/JakeFAU/crawlctl/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/crawlctl/internal/publisher/pubsub"
	"github.com/JakeFAU/crawlctl/internal/scheduler"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
	"github.com/JakeFAU/crawlctl/internal/storage/memory"
	"github.com/JakeFAU/crawlctl/internal/storage/postgres"
	"github.com/JakeFAU/crawlctl/internal/storage/sqlite"
)

// SyncJobName is the scheduler entry running periodic feed syncs.
const SyncJobName = "feed-sync"

// FeedStore is the storage surface shared by the sync engine and the API.
type FeedStore interface {
	feedsync.Store
	crawler.FeedReader
}

// Store is an opened FeedStore plus its lifecycle hooks.
type Store struct {
	FeedStore
	Ping  func(ctx context.Context) error
	Close func() error
}

// OpenStore opens the store selected by cfg.DB.Driver.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns), //nolint:gosec
			Migrate:  cfg.DB.Migrate,
		}, logger.Named("postgres"))
		if err != nil {
			return Store{}, fmt.Errorf("open postgres store: %w", err)
		}
		return Store{
			FeedStore: pg,
			Ping:      pg.Ping,
			Close: func() error {
				pg.Close()
				return nil
			},
		}, nil
	case config.DriverSQLite:
		lite, err := sqlite.Open(ctx, sqlite.Config{
			Path:     cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			Migrate:  cfg.DB.Migrate,
		}, logger.Named("sqlite"))
		if err != nil {
			return Store{}, fmt.Errorf("open sqlite store: %w", err)
		}
		return Store{
			FeedStore: lite,
			Ping:      lite.DB().PingContext,
			Close:     lite.Close,
		}, nil
	case config.DriverMemory:
		logger.Warn("using in-memory feed store; data is lost on exit")
		return Store{
			FeedStore: memory.NewFeedStore(),
			Ping:      func(context.Context) error { return nil },
			Close:     func() error { return nil },
		}, nil
	default:
		return Store{}, fmt.Errorf("unknown db driver: %s", cfg.DB.Driver)
	}
}

// Migrate applies the monitor_feed schema for the configured driver and
// returns the resulting version.
func Migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) (uint, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		cfg.DB.Migrate = false
		store, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return 0, err
		}
		defer store.Close() //nolint:errcheck
		pg, ok := store.FeedStore.(*postgres.FeedStore)
		if !ok {
			return 0, errors.New("postgres store has unexpected type")
		}
		return pg.MigrateSchema(logger.Named("postgres"))
	case config.DriverSQLite:
		cfg.DB.Migrate = false
		store, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return 0, err
		}
		defer store.Close() //nolint:errcheck
		lite, ok := store.FeedStore.(*sqlite.FeedStore)
		if !ok {
			return 0, errors.New("sqlite store has unexpected type")
		}
		return lite.Migrate()
	case config.DriverMemory:
		return 0, errors.New("memory driver has no schema to migrate")
	default:
		return 0, fmt.Errorf("unknown db driver: %s", cfg.DB.Driver)
	}
}

// publisherFor returns the Pub/Sub publisher when a topic is configured. Without
// one, development mode records notifications in memory and production
// disables them.
func publisherFor(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, func() error, error) {
	noClose := func() error { return nil }
	if cfg.PubSub.TopicName == "" {
		if cfg.Logging.Development {
			return memorypublisher.New(logger.Named("publisher")), noClose, nil
		}
		return nil, noClose, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, logger.Named("publisher"))
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return pub, pub.Close, nil
}

// App holds all the shared, long-lived services for the application. It is
// built once at startup by New and torn down with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store          Store
	publisher      crawler.Publisher
	closePublisher func() error
	engine         *feedsync.Engine
	orchestrator   *orchestrator.Orchestrator
	scheduler      *scheduler.Scheduler
	server         *api.Server
}

// New wires every service from cfg. It fails fast if storage or the
// publisher cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	logger.Info("initializing application services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("timezone", loc.String()),
	)

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pub, closePub, err := publisherFor(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	clock := system.New()
	engine := feedsync.New(
		store,
		content.NewNormalizer(loc),
		sentiment.NewAnalyzer(),
		pub,
		clock,
		feedsync.Config{BatchSize: cfg.Sync.BatchSize, Topic: cfg.PubSub.TopicName},
		logger.Named("feedsync"),
	)

	commands, err := crawler.NewCommandBuilder(cfg.CommandConfig(), cfg.Cookies())
	if err != nil {
		_ = closePub()
		_ = store.Close()
		return nil, fmt.Errorf("init command builder: %w", err)
	}
	var syncer orchestrator.Syncer
	if cfg.Sync.AfterRun {
		syncer = engine
	}
	orch := orchestrator.New(
		commands,
		syncer,
		logbuffer.New(cfg.Crawler.LogCapacity),
		clock,
		uuid.New(),
		orchestrator.Config{
			StopGrace:     cfg.StopGrace(),
			WaitDelay:     cfg.WaitDelay(),
			KillOnTimeout: cfg.Crawler.KillOnTimeout,
			SyncAfterRun:  cfg.Sync.AfterRun,
		},
		logger.Named("orchestrator"),
	)

	sched, err := scheduler.New(cfg.Sync.Timezone, logger.Named("scheduler"))
	if err != nil {
		_ = closePub()
		_ = store.Close()
		return nil, err
	}
	if cfg.Sync.Schedule != "" {
		err := sched.AddJob(SyncJobName, cfg.Sync.Schedule, func(ctx context.Context) error {
			return engine.SyncAll(ctx).Err()
		})
		if err != nil {
			_ = closePub()
			_ = store.Close()
			return nil, err
		}
	}

	server := api.NewServer(orch, engine, store, store.Ping, cfg, logger.Named("api"))

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		publisher:      pub,
		closePublisher: closePub,
		engine:         engine,
		orchestrator:   orch,
		scheduler:      sched,
		server:         server,
	}, nil
}

// Engine returns the feed sync engine.
func (a *App) Engine() *feedsync.Engine {
	return a.engine
}

// Orchestrator returns the crawler orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Scheduler returns the periodic job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP on cfg.Server.Port and runs the scheduler until ctx is
// canceled, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err, ok := <-errCh:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return serveErr
}

// Close gracefully shuts down all services. The crawler subprocess is
// stopped before storage closes so a final post-run sync can still write.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := a.orchestrator.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	if err := a.closePublisher(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
