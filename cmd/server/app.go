package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/condition"
	"github.com/liamcoop/retention/config"
	"github.com/liamcoop/retention/dispatcher"
	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/metrics"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
	"github.com/liamcoop/retention/rules"
	"github.com/liamcoop/retention/scheduler"
)

const reloadTimeout = 10 * time.Second

// store is a repository that publishes its notifications.
type store interface {
	repository.Repository
	OnNotify(fn repository.Notifier)
}

// App holds every long-lived component of the service.
type App struct {
	cfg *config.Config
	db  *sql.DB

	repo       store
	registry   *actions.Registry
	rules      *rules.Manager
	static     *events.StaticSource
	pgEvents   *events.PostgresSource
	accepted   *events.AcceptedEvents
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	sweeper    *scheduler.Sweeper
	metrics    *metrics.Collector

	log *slog.Logger
}

// NewApp builds the service from cfg. An empty database URL selects the
// in-memory backends.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{cfg: cfg, log: logger.For("server")}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}
	policy, err := engine.ParseFailurePolicy(cfg.Retention.FailurePolicy)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		app.metrics = metrics.NewCollector(metrics.Config{Namespace: cfg.Metrics.Namespace}, prometheus.NewRegistry())
	}

	var (
		ruleStore rules.RuleStore
		source    events.Source
	)
	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.repo = repository.NewPostgres(db)
		ruleStore = rules.NewPostgresRuleStore(db)

		app.pgEvents = events.NewPostgresSource(db)
		if err := upsertEvents(ctx, app.pgEvents, cfg.Retention.AcceptedEvents); err != nil {
			db.Close()
			return nil, err
		}
		source = app.pgEvents
		app.log.Info("using postgres backends")
	} else {
		app.repo = repository.NewMemory()
		ruleStore = rules.NewInMemoryRuleStore()
		app.static = events.NewStaticSource(definitions(cfg.Retention.AcceptedEvents))
		source = app.static
		app.log.Info("using in-memory backends")
	}

	evaluator, err := condition.NewEvaluator(condition.WithCostLimit(cfg.Retention.CostLimit))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	app.registry = actions.NewRegistry(app.repo)
	app.rules = rules.NewManager(ruleStore, rules.Validator{
		Compiler:    evaluator,
		KnownAction: app.registry.Has,
	})
	app.accepted = events.NewAcceptedEvents(source, events.CacheConfig{TTL: cfg.Retention.EventsCacheTTL})

	app.engine = engine.New(app.repo, actions.NewExecutor(app.repo, app.registry), evaluator, app.accepted, engine.Options{
		Calculator:    retention.NewCalculator(loc),
		FailurePolicy: policy,
		Metrics:       app.metrics,
		AutoRules:     app.rules,
	})
	app.dispatcher = dispatcher.New(app.engine, dispatcher.QueueConfig{
		Workers:     cfg.Workers.Count,
		Size:        cfg.Workers.QueueSize,
		MaxRetries:  cfg.Workers.MaxRetries,
		BaseBackoff: cfg.Workers.BaseBackoff,
	}, app.metrics)
	app.sweeper = scheduler.NewSweeper(app.repo, app.engine, cfg.Retention.SweepSchedule, app.metrics)

	app.repo.OnNotify(dispatcher.Collect)
	return app, nil
}

// Start launches the background workers and the sweep schedule.
func (a *App) Start(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	return a.sweeper.Start(ctx)
}

// Close stops the background work and releases the database.
func (a *App) Close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error(a.log, "failed to close database", "error", err)
		}
	}
}

// Reload applies the parts of cfg that can change at runtime. In postgres
// mode the configured events are upserted into retention_events as
// non-obsolete; other rows are left untouched.
func (a *App) Reload(cfg *config.Config) {
	if a.static != nil {
		a.static.Replace(definitions(cfg.Retention.AcceptedEvents))
	}
	if a.pgEvents != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		err := upsertEvents(ctx, a.pgEvents, cfg.Retention.AcceptedEvents)
		cancel()
		if err != nil {
			logger.Error(a.log, "failed to store accepted events", "error", err)
		}
	}
	a.engine.InvalidateAcceptedEvents()
	if lvl, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}
	a.log.Info("configuration applied", "acceptedEvents", len(cfg.Retention.AcceptedEvents))
}

// Ping checks the database when one is configured.
func (a *App) Ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

// Backend names the storage in use.
func (a *App) Backend() string {
	if a.db != nil {
		return "postgres"
	}
	return "memory"
}

func upsertEvents(ctx context.Context, src *events.PostgresSource, names []string) error {
	for _, name := range names {
		if err := src.Upsert(ctx, events.Definition{ID: name}); err != nil {
			return err
		}
	}
	return nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func definitions(names []string) []events.Definition {
	defs := make([]events.Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, events.Definition{ID: name})
	}
	return defs
}
