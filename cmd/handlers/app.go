package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"newsintel/internal/config"
	"newsintel/internal/llm"
	"newsintel/internal/logger"
	"newsintel/internal/observability"
	"newsintel/internal/persistence"
	"newsintel/internal/pipeline"
	"newsintel/internal/store"
)

// dryRunResponse is what the mock provider answers: a neutral low-confidence
// coaching note, enough to exercise the pipeline without a model.
const dryRunResponse = `{"event_type":"news","dimension":"coaching_sentiment","sentiment":"neutral",` +
	`"severity":"none","confidence":0.3,"summary":"Dry run: no model was called.","related_entities":[]}`

// app holds the wired components a command needs and closes them in reverse order.
type app struct {
	cfg      *config.Config
	db       persistence.Database
	pipeline *pipeline.Pipeline
	tracker  *observability.PostHogClient
	log      *slog.Logger
	closers  []func() error
}

// getDatabase opens the configured store.
func getDatabase(cfg *config.Config) (persistence.Database, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := persistence.NewPostgresDB(cfg.Database.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, config.Duration(cfg.Database.ConnMaxLifetime, 0))
		return db, nil
	default:
		logger.Warn("Using the in-memory database; state is lost when the process exits")
		return persistence.NewMemoryDB(), nil
	}
}

// getPostgres opens the configured Postgres store for schema commands.
func getPostgres(cfg *config.Config) (*persistence.PostgresDB, error) {
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("migrations need database.driver=postgres (current: %s)", cfg.Database.Driver)
	}
	db, err := persistence.NewPostgresDB(cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newProvider builds the configured LLM provider wrapped with pacing and tracking.
func newProvider(ctx context.Context, cfg *config.Config, tracker llm.Tracker) (llm.Provider, error) {
	var provider llm.Provider
	switch cfg.AI.Provider {
	case "command":
		p, err := llm.NewCommandProvider(cfg.AI.Command)
		if err != nil {
			return nil, err
		}
		provider = p
	case "mock":
		provider = llm.NewMockProvider(dryRunResponse)
	default:
		p, err := llm.NewGeminiProvider(ctx, cfg.AI.Gemini)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	return llm.NewClient(provider, cfg.AI.RequestsPerMinute, tracker), nil
}

// newApp wires the database, cache, analytics, LLM provider and pipeline from
// config. Commands that never call the model pass requireLLM=false and fall
// back to the dry-run provider when the configured one is unavailable.
func newApp(ctx context.Context, requireLLM bool) (*app, error) {
	cfg := config.Get()
	a := &app{cfg: cfg, log: logger.Get()}

	db, err := getDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	tracker, err := observability.NewPostHogClient(cfg.PostHog)
	if err != nil {
		a.log.Warn("PostHog disabled", "error", err)
		tracker = observability.Disabled()
	}
	a.tracker = tracker

	provider, err := newProvider(ctx, cfg, tracker)
	if err != nil {
		if requireLLM {
			a.close()
			return nil, fmt.Errorf("failed to create LLM provider: %w", err)
		}
		a.log.Debug("LLM provider unavailable, using dry-run provider", "error", err)
		provider = llm.NewMockProvider(dryRunResponse)
	}

	builder := pipeline.NewBuilder(db).
		WithProvider(provider).
		WithTracker(tracker).
		WithLocation(cfg.App.Location()).
		WithConfig(pipeline.ConfigFromSettings(cfg))

	if cfg.Cache.Backend == "sqlite" {
		cacheStore, err := store.NewStore(cfg.Cache.Directory)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open extraction cache: %w", err)
		}
		a.closers = append(a.closers, cacheStore.Close)
		builder = builder.WithCache(cacheStore)
	}

	p, err := builder.Build()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	a.pipeline = p
	return a, nil
}

func (a *app) close() {
	if a.tracker != nil {
		if err := a.tracker.Shutdown(context.Background()); err != nil {
			a.log.Warn("Failed to flush analytics", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
}
