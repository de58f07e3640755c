package handlers

import (
	"context"
	"errors"
	"fmt"

	"driftwatch/internal/config"
	"driftwatch/internal/core"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
	"driftwatch/internal/observability"
	"driftwatch/internal/persistence"
	"driftwatch/internal/pipeline"
	"driftwatch/internal/store"
)

// app holds the long-lived collaborators a command needs.
type app struct {
	cfg       *config.Config
	store     persistence.Store
	ledger    *ledger.Ledger
	analytics observability.Tracker
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Get()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l, err := openLedger(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	analytics, err := observability.NewTracker(cfg.Analytics())
	if err != nil {
		logger.Warn("analytics disabled", "error", err)
		analytics = observability.Disabled{}
	}
	return &app{cfg: cfg, store: st, ledger: l, analytics: analytics}, nil
}

func (a *app) Close() {
	if err := a.analytics.Close(); err != nil {
		logger.Error("Failed to flush analytics", err)
	}
	if err := a.ledger.Close(); err != nil {
		logger.Error("Failed to close ledger", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close store", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	if cfg.Database.URL == "" {
		return nil, core.NewError(core.KindConfigurationInvalid, "store", "",
			errors.New("DATABASE_URL or database.url is required"))
	}
	return persistence.NewPostgresStore(ctx, cfg.Database.URL)
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	horizon := ledger.WithHorizon(cfg.Horizon())
	switch cfg.Cache.Backend {
	case "memory":
		return ledger.New(nil, horizon), nil
	case "redis":
		backend, err := ledger.NewRedisBackend(ctx, cfg.Cache.RedisURL, cfg.Horizon())
		if err != nil {
			return nil, err
		}
		return ledger.New(backend, horizon), nil
	default:
		backend, err := store.NewStore(cfg.Cache.Directory)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %w", err)
		}
		return ledger.New(backend, horizon), nil
	}
}

// orchestrator wires the pipeline. A dry run never calls out, so missing
// credentials only fall back to offline clients there.
func (a *app) orchestrator(ctx context.Context, dryRun bool) (*pipeline.Orchestrator, error) {
	embedProvider := a.cfg.Provider(a.cfg.LLM.EmbeddingProvider)
	genProvider := a.cfg.Provider(a.cfg.LLM.GenerationProvider)
	if err := a.cfg.RequireCredentials(); err != nil {
		if !dryRun {
			return nil, err
		}
		logger.Debug("dry run without credentials, using offline clients")
		embedProvider.Provider, genProvider.Provider = "fake", "fake"
	}

	embedder, err := llm.NewEmbedder(ctx, embedProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	generator, err := llm.NewGenerator(ctx, genProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	pacer, err := a.cfg.Pacer()
	if err != nil {
		return nil, core.NewError(core.KindConfigurationInvalid, "pacing", "", err)
	}

	return pipeline.NewBuilder().
		WithSettings(a.cfg.PipelineSettings()).
		WithSource(a.store).
		WithStore(a.store).
		WithLedger(a.ledger).
		WithEmbedder(embedder).
		WithGenerator(generator).
		WithPacer(pacer).
		WithAnalytics(a.analytics).
		Build()
}
