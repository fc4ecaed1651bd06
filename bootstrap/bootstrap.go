// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with environment overrides; the
// driver fields select concrete adapters (sqlite/redis/docker or the
// in-memory stand-ins).
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/artifact"
	"github.com/fngate/fngate/adapters/clock"
	"github.com/fngate/fngate/adapters/docker"
	fngatehttp "github.com/fngate/fngate/adapters/http"
	"github.com/fngate/fngate/adapters/idgen"
	"github.com/fngate/fngate/adapters/memory"
	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/adapters/redis"
	"github.com/fngate/fngate/adapters/sqlite"
	"github.com/fngate/fngate/app"
	"github.com/fngate/fngate/config"
	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	sandbox *app.SandboxRunner
	meter   *app.MeterService
	worker  *app.BillingWorker

	// Adapters held for cleanup.
	db          *sqlite.DB
	redisClient *goredis.Client
	engine      ports.ContainerEngine
	queue       *MeterQueue
	events      ports.EventLog
}

// New creates and initializes the application from the config file at path.
func New(path string) (*App, error) {
	holder, err := config.NewHolder(path, zerolog.New(os.Stderr).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}
	cfg := holder.Get()

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("config", path).Msg("initializing fngate")

	a := &App{
		Logger: logger,
		Config: holder,
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initAdapters(cfg); err != nil {
		a.closeAdapters()
		return nil, err
	}
	if err := a.initServices(cfg); err != nil {
		a.closeAdapters()
		return nil, err
	}
	a.initHTTPServer(cfg)
	a.initConfigReload()

	return a, nil
}

func (a *App) initAdapters(cfg *config.Config) error {
	switch cfg.Redis.Driver {
	case "redis":
		client, err := redis.NewClient(context.Background(), redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = client
		a.events = redis.NewEventLog(client, cfg.Redis.Stream)
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Str("stream", cfg.Redis.Stream).Msg("redis event log initialized")
	default:
		a.events = memory.NewEventLog()
		a.Logger.Info().Msg("in-memory event log initialized")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.db = db
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	default:
		a.Logger.Info().Msg("in-memory stores initialized")
	}

	switch cfg.Sandbox.Engine {
	case "docker":
		engine, err := docker.NewEngine()
		if err != nil {
			return fmt.Errorf("connect docker: %w", err)
		}
		a.engine = engine
		a.Logger.Info().Msg("docker engine initialized")
	default:
		a.engine = memory.NewEngine()
		a.Logger.Info().Msg("in-memory engine initialized")
	}

	return nil
}

func (a *App) initServices(cfg *config.Config) error {
	realClock := clock.Real{}
	idGen := idgen.UUID{}

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	var (
		usageStore    ports.UsageStore
		snapshotStore ports.SnapshotStore
		pricingStore  ports.PricingStore
	)
	if a.db != nil {
		usageStore = sqlite.NewUsageStore(a.db)
		snapshotStore = sqlite.NewSnapshotStore(a.db)
		pricingStore = sqlite.NewPricingStore(a.db)
	} else {
		usageStore = memory.NewUsageStore()
		snapshotStore = memory.NewSnapshotStore()
		pricingStore = memory.NewPricingStore()
	}

	var realtime ports.RealtimeMetrics
	if a.redisClient != nil {
		realtime = redis.NewMetricsStore(a.redisClient, "", cfg.Billing.CounterTTL)
	} else {
		realtime = memory.NewMetricsStore(cfg.Billing.CounterTTL, realClock)
	}

	a.sandbox = app.NewSandboxRunner(app.SandboxDeps{
		Artifacts: artifacts,
		Engine:    a.engine,
		Clock:     realClock,
		IDGen:     idGen,
		Logger:    a.Logger,
		Collector: a.Metrics,
	}, app.SandboxConfig{
		BaseImage:     cfg.Sandbox.BaseImage,
		Command:       cfg.Sandbox.Command,
		WorkspaceRoot: cfg.Sandbox.WorkspaceRoot,
		Limits: execution.Limits{
			MemoryBytes: cfg.Sandbox.MemoryLimitMB << 20,
			CPUQuota:    cfg.Sandbox.CPUs,
			MaxOpenFD:   cfg.Sandbox.MaxOpenFiles,
			MaxProcs:    cfg.Sandbox.MaxProcesses,
			Timeout:     cfg.Sandbox.Timeout,
		},
		FetchTimeout:  cfg.Sandbox.FetchTimeout,
		BuildTimeout:  cfg.Sandbox.BuildTimeout,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
	})

	a.meter = app.NewMeterService(app.MeterDeps{
		Usage:     usageStore,
		Events:    a.events,
		Prices:    pricingStore,
		Clock:     realClock,
		IDGen:     idGen,
		Logger:    a.Logger,
		Collector: a.Metrics,
	}, cfg.Metering.PricingCacheTTL)

	a.queue = NewMeterQueue(a.meter, a.Logger, a.Metrics, MeterQueueConfig{
		QueueSize: cfg.Metering.QueueSize,
		Workers:   cfg.Metering.Workers,
	})

	a.worker = app.NewBillingWorker(app.BillingDeps{
		Events:    a.events,
		Usage:     usageStore,
		Snapshots: snapshotStore,
		Realtime:  realtime,
		Clock:     realClock,
		Logger:    a.Logger,
		Collector: a.Metrics,
	}, app.BillingConfig{
		Group:     cfg.Billing.Group,
		Consumer:  cfg.Billing.Consumer,
		BatchSize: cfg.Billing.BatchSize,
		Interval:  cfg.Billing.Interval,
	})

	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := fngatehttp.NewHandler(fngatehttp.HandlerDeps{
		Sandbox:   a.sandbox,
		Worker:    a.worker,
		Meter:     a.queue,
		Events:    a.events,
		Clock:     clock.Real{},
		Logger:    a.Logger,
		Collector: a.Metrics,
		Group:     cfg.Billing.Group,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

func (a *App) initConfigReload() {
	a.Config.OnChange(func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		}
	})
	a.Config.WatchSignals()
	if err := a.Config.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, SIGHUP reload only")
	}
}

// Run starts the billing worker and the HTTP server, then blocks until
// shutdown.
func (a *App) Run() error {
	if err := a.worker.Start(context.Background()); err != nil {
		return fmt.Errorf("start billing worker: %w", err)
	}

	// Metering failures are logged and counted by the workers; keep the
	// error channel drained so it never backs up.
	go func() {
		for range a.queue.Errors() {
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application: stop accepting requests,
// drain metering, stop the billing worker, then release adapters.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.Config.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("meter queue close error")
		}
	}

	if a.worker != nil {
		a.worker.Stop()
	}

	a.closeAdapters()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) closeAdapters() {
	if closer, ok := a.engine.(*docker.Engine); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("docker engine close error")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
