// Package server builds the application graph and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/api"
	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/config"
	"github.com/JakeFAU/resmi-haber-crawler/internal/feed"
	collyfetcher "github.com/JakeFAU/resmi-haber-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/resmi-haber-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/resmi-haber-crawler/internal/financial"
	"github.com/JakeFAU/resmi-haber-crawler/internal/hash/sha256"
	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingestor"
	"github.com/JakeFAU/resmi-haber-crawler/internal/logging"
	"github.com/JakeFAU/resmi-haber-crawler/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/resmi-haber-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/resmi-haber-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/resmi-haber-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/resmi-haber-crawler/internal/robots"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scheduler"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scraper"
	gcsstorage "github.com/JakeFAU/resmi-haber-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/resmi-haber-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/resmi-haber-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/resmi-haber-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/resmi-haber-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/resmi-haber-crawler/internal/telemetry"
)

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     ingest.Store
	robots    *robots.Policy
	limiter   *ratelimit.Limiter
	sites     *scraper.Registry
	scraper   *scraper.Engine
	financial *financial.Fetcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	closers   []closer
	closeOnce sync.Once
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithOptions(logging.Options{
		Development: cfg.Logging.Development,
		FilePath:    cfg.Logging.File.Path,
		MaxSizeMB:   cfg.Logging.File.MaxSizeMB,
		MaxBackups:  cfg.Logging.File.MaxBackups,
		MaxAgeDays:  cfg.Logging.File.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("events", cfg.Events.Backend),
	)
	if !cfg.Telemetry.Enabled {
		return build(ctx, cfg, logger)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	app, err := build(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	app.addCloser("tracing", func() error { return tp.Shutdown(context.Background()) })
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.closeAll()
		}
	}()

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}
	blobStore, err := app.setupBlob(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	hasher := sha256.New()

	app.robots = robots.New(robots.Config{
		UserAgent:          cfg.Robots.UserAgent,
		TTL:                cfg.Robots.CacheTTL,
		Timeout:            time.Duration(cfg.Robots.TimeoutSeconds) * time.Second,
		FallbackCrawlDelay: seconds(cfg.Robots.FallbackCrawlDelaySeconds),
		DefaultCrawlDelay:  seconds(cfg.Robots.DefaultCrawlDelaySeconds),
	}, &http.Client{Timeout: time.Duration(cfg.Robots.TimeoutSeconds) * time.Second}, clock, logger.Named("robots"))
	app.limiter = ratelimit.New(ratelimit.Config{
		MinInterval: seconds(cfg.Robots.DefaultCrawlDelaySeconds),
	}, app.robots)

	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxRetries:   cfg.HTTP.MaxRetries,
		RetryDelay:   time.Duration(cfg.HTTP.RetryDelayMs) * time.Millisecond,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, nil, logger.Named("fetcher"))

	renderer, err := app.setupHeadless()
	if err != nil {
		return nil, err
	}

	app.sites, err = scraper.LoadRegistry(cfg.Scraper.SitesFile)
	if err != nil {
		return nil, fmt.Errorf("site registry init failed: %w", err)
	}
	scraperCfg := scraper.DefaultConfig()
	scraperCfg.Concurrency = cfg.Scraper.ConcurrencyPerDomain
	scraperCfg.BatchPause = time.Duration(cfg.Scraper.BatchPauseMs) * time.Millisecond
	scraperCfg.ArticlePause = time.Duration(cfg.Scraper.ArticlePauseMs) * time.Millisecond
	scraperCfg.CategoryPause = time.Duration(cfg.Scraper.CategoryPauseMs) * time.Millisecond
	scraperCfg.MaxArticles = cfg.Scraper.MaxArticles
	scraperCfg.ArchivePrefix = cfg.Blob.Prefix
	scraperCfg.ArchiveContentType = cfg.Scraper.Archive.ContentType
	deps := scraper.Deps{
		Fetcher: pages,
		Robots:  app.robots,
		Limiter: app.limiter,
		Hasher:  hasher,
		Clock:   clock,
		Logger:  logger,
	}
	if renderer != nil {
		deps.Renderer = renderer
		if cfg.Headless.Promote {
			deps.Detector = headlessfetcher.NewDetector(cfg.Headless.PromoteThreshold)
		}
	}
	if cfg.Scraper.Archive.Enabled {
		deps.Archive = blobStore
	}
	app.scraper, err = scraper.New(scraperCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}

	ing := ingestor.New(app.store, ingestor.Options{
		Publisher: publisher,
		Topic:     cfg.Events.Topic,
		Hasher:    hasher,
		IDs:       uuid.New(),
		Clock:     clock,
		Logger:    logger,
	})
	feeds := feed.NewFetcher(feed.Config{
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
	}, nil)
	updater := feed.NewUpdater(app.store, feeds, ing, clock, logger)

	bulletins := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    time.Duration(cfg.Financial.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.HTTP.MaxRetries,
		RetryDelay: time.Duration(cfg.HTTP.RetryDelayMs) * time.Millisecond,
	}, nil, logger.Named("financial_fetcher"))
	app.financial = financial.New(financial.Config{
		BaseURL:  cfg.Financial.BaseURL,
		GoldURL:  cfg.Financial.GoldURL,
		CacheTTL: cfg.Financial.CacheTTL,
		Timeout:  time.Duration(cfg.Financial.TimeoutSeconds) * time.Second,
		Location: cfg.Location(),
	}, bulletins, app.store, clock, logger)

	app.scheduler = scheduler.New(scheduler.Config{
		Tick:                cfg.Scheduler.Tick,
		Warmup:              cfg.Scheduler.Warmup,
		RSSInterval:         cfg.Scheduler.RSSInterval,
		FinancialInterval:   cfg.Scheduler.FinancialInterval,
		CleanupInterval:     cfg.Scheduler.CleanupInterval,
		MaintenanceInterval: cfg.Scheduler.MaintenanceInterval,
		RetentionDays:       cfg.Retention.Days,
	}, scheduler.Deps{
		Sources:   app.store,
		Articles:  app.store,
		RSS:       updater,
		Scraper:   app.scraper,
		Sites:     app.sites,
		Ingestor:  ing,
		Financial: app.financial,
		Robots:    app.robots,
		Limiter:   app.limiter,
		Clock:     clock,
		Logger:    logger,
	})

	app.apiServer = api.NewServer(api.Deps{
		Jobs:      app.scheduler,
		Financial: app.financial,
		Robots:    app.robots,
		Scraper:   app.scraper,
		Ready:     app.ready,
	}, *cfg, logger.Named("api"))

	ok = true
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "postgres":
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
			MinConns: a.cfg.Storage.MinConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.addCloser("postgres", pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.store = pg
		a.logger.Info("using postgres store")
	case "sqlite":
		lite, err := sqlitestore.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.addCloser("sqlite", lite.Close)
		a.store = lite
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Storage.SQLitePath))
	default:
		a.logger.Warn("using in-memory store; data is lost on restart")
		a.store = memorystorage.NewStore()
	}
	return nil
}

func (a *App) setupBlob(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs", client.Close)
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Blob.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Blob.Bucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Blob.BaseDir))
		return blobStore, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	switch a.cfg.Events.Backend {
	case "pubsub":
		pub, err := gcppublisher.New(ctx, a.cfg.Events.ProjectID, a.cfg.Events.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(a.cfg.Events.KafkaBrokers, a.logger)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.addCloser("kafka", pub.Close)
		a.logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", a.cfg.Events.KafkaBrokers),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return pub, nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		a.logger.Info("article events disabled")
		return nil, nil
	}
}

func (a *App) setupHeadless() (*headlessfetcher.Fetcher, error) {
	if !a.cfg.Headless.Enabled {
		return nil, nil
	}
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.addCloser("headless", func() error {
		fetcher.Close()
		return nil
	})
	a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return fetcher, nil
}

func (a *App) ready(ctx context.Context) error {
	if _, err := a.store.ListSources(ctx, ingest.SourceFilter{Mode: ingest.ModeRSS}); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Config returns the configuration the graph was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the relational store.
func (a *App) Store() ingest.Store { return a.store }

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Robots returns the robots.txt policy.
func (a *App) Robots() *robots.Policy { return a.robots }

// Handler returns the control surface router.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Scheduler.Enabled {
		go a.scheduler.Run(ctx)
		a.logger.Info("scheduler started", zap.Duration("tick", a.cfg.Scheduler.Tick))
	} else {
		a.logger.Info("scheduler disabled; jobs run only on demand")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
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
	a.scheduler.Wait()
	return a.Close()
}

// Close releases infrastructure in reverse order of construction. Safe to call twice.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeAll()
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
