// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/api"
	"github.com/CWD273/cwiptvm3/internal/archive"
	gcsarchive "github.com/CWD273/cwiptvm3/internal/archive/gcs"
	localarchive "github.com/CWD273/cwiptvm3/internal/archive/local"
	memoryarchive "github.com/CWD273/cwiptvm3/internal/archive/memory"
	"github.com/CWD273/cwiptvm3/internal/cache"
	pgcache "github.com/CWD273/cwiptvm3/internal/cache/postgres"
	sqlitecache "github.com/CWD273/cwiptvm3/internal/cache/sqlite"
	"github.com/CWD273/cwiptvm3/internal/catalog"
	"github.com/CWD273/cwiptvm3/internal/clock/system"
	"github.com/CWD273/cwiptvm3/internal/config"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/id/uuid"
	"github.com/CWD273/cwiptvm3/internal/logging"
	"github.com/CWD273/cwiptvm3/internal/metrics"
	"github.com/CWD273/cwiptvm3/internal/notify"
	gcpnotify "github.com/CWD273/cwiptvm3/internal/notify/pubsub"
	"github.com/CWD273/cwiptvm3/internal/policy/ratelimit"
	"github.com/CWD273/cwiptvm3/internal/probe"
	"github.com/CWD273/cwiptvm3/internal/scanner"
	"github.com/CWD273/cwiptvm3/internal/schedule"
	"github.com/CWD273/cwiptvm3/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	scanner         *scanner.Scanner
	scheduler       *schedule.Scheduler
	store           cache.Store
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerProvider  *sdktrace.TracerProvider
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scanner returns the scanner that owns the working-stream cache.
func (a *App) Scanner() *scanner.Scanner {
	return a.scanner
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
	)

	app.store, err = OpenStore(ctx, cfg)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	blobStore, err := setupArchive(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	table, err := cache.NewTable()
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("cache table init failed: %w", err)
	}

	app.scanner, err = scanner.New(scanner.Config{
		Concurrency:  cfg.Scanner.Concurrency,
		CycleTimeout: cfg.Scanner.CycleTimeout,
	}, scanner.Deps{
		Catalog:  setupCatalog(cfg, logger),
		Resolver: setupResolver(cfg, logger),
		Table:    table,
		Store:    app.store,
		Notifier: notifier,
		Archiver: archive.New(blobStore, cfg.Archive.Prefix),
		Clock:    system.New(),
		IDs:      uuid.New(),
		Logger:   logger.Named("scanner"),
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("scanner init failed: %w", err)
	}

	app.scheduler, err = schedule.New(schedule.Config{
		Spec:       cfg.Schedule.Cron,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, app.scheduledCycle, logger.Named("schedule"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.scanner, *cfg, logger.Named("api"))
	return app, nil
}

// OpenStore opens the configured persistence backend for the working-stream cache.
func OpenStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "postgres":
		store, err := pgcache.New(ctx, pgcache.Config{
			DSN:             cfg.Cache.DB.DSN,
			Table:           cfg.Cache.DB.Table,
			MaxConns:        cfg.Cache.DB.MaxConns,
			MinConns:        cfg.Cache.DB.MinConns,
			MaxConnLifetime: cfg.Cache.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres cache store init failed: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlitecache.Open(ctx, cfg.Cache.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache store init failed: %w", err)
		}
		return store, nil
	default:
		store, err := cache.NewFileStore(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("file cache store init failed: %w", err)
		}
		return store, nil
	}
}

func setupArchive(ctx context.Context, app *App) (archive.BlobStore, error) {
	switch app.cfg.Archive.Backend {
	case "gcs":
		app.logger.Info("using GCS archive backend", zap.String("bucket", app.cfg.Archive.Bucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsarchive.New(app.storage, gcsarchive.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local archive backend", zap.String("path", app.cfg.Archive.Local.BaseDir))
		blobStore, err := localarchive.New(localarchive.Config{BaseDir: app.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory archive backend")
		return memoryarchive.NewBlobStore(), nil
	}
}

func setupNotifier(ctx context.Context, app *App) (*notify.Notifier, error) {
	if !app.cfg.PubSubEnabled() {
		app.logger.Warn("no Pub/Sub topic configured, change notifications disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return notify.NewNotifier(
		gcpnotify.New(app.pubsubPublisher),
		app.cfg.PubSub.TopicName,
		app.logger.Named("notify"),
	), nil
}

func setupCatalog(cfg *config.Config, logger *zap.Logger) *catalog.Source {
	return catalog.NewSource(catalog.SourceConfig{
		URL:         cfg.Catalog.URL,
		UserAgent:   cfg.Catalog.UserAgent,
		Timeout:     cfg.Catalog.Timeout,
		MaxAttempts: cfg.Catalog.MaxAttempts,
		Filter:      catalog.Filter{Only: cfg.Catalog.Channels},
	}, nil, logger.Named("catalog"))
}

func setupResolver(cfg *config.Config, logger *zap.Logger) *discovery.Resolver {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Probe.HostRPS,
		Burst: cfg.Probe.HostBurst,
	})
	prober := probe.NewHTTPProber(probe.Config{
		UserAgent:    cfg.Probe.UserAgent,
		Timeout:      cfg.Probe.Timeout,
		MaxBodyBytes: cfg.Probe.MaxBodyBytes,
	}, &http.Client{}, limiter, logger.Named("probe"))
	logger.Info("prober configured",
		zap.Duration("timeout", cfg.Probe.Timeout),
		zap.Float64("host_rps", cfg.Probe.HostRPS),
		zap.Int("host_burst", cfg.Probe.HostBurst),
		zap.Int("max_origins", cfg.Discovery.MaxOrigins),
	)
	return discovery.NewResolver(prober, discovery.Config{
		MaxOrigins:   cfg.Discovery.MaxOrigins,
		HostTemplate: cfg.Discovery.HostTemplate,
	}, logger.Named("discovery"))
}

func (a *App) scheduledCycle(ctx context.Context) error {
	_, err := a.scanner.RunCycle(ctx)
	if errors.Is(err, scanner.ErrCycleInProgress) {
		return fmt.Errorf("%w: %w", schedule.ErrSkipped, err)
	}
	return err
}

// Run loads the cache, starts the scheduler and HTTP server, and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scanner.Startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	a.scheduler.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           otelhttp.NewHandler(a.apiServer.Handler(), "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop incomplete", zap.Error(err))
	}
	return nil
}

// Close releases every resource Build acquired.
func (a *App) Close() {
	if a.scanner != nil {
		a.scanner.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	// Sync on a console logger returns EINVAL/ENOTTY; nothing useful to do with it.
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("cache store close failed", zap.Error(err))
		}
	}
	if a.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
}
