package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/haven/internal/chat"
	"github.com/antoniostano/haven/internal/config"
	"github.com/antoniostano/haven/internal/engine"
	"github.com/antoniostano/haven/internal/handoff"
	"github.com/antoniostano/haven/internal/httpapi"
	"github.com/antoniostano/haven/internal/observability"
	"github.com/antoniostano/haven/internal/policy"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Coordinator *handoff.Coordinator
	Store       chat.Store
	Metrics     *observability.Metrics
	StoreMode   string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the service: store selection (Postgres when DATABASE_URL is
// set, in-memory otherwise), reply-engine adapter, coordinator and API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var (
		store     chat.Store
		storeMode string
		err       error
	)
	if cfg.DatabaseURL != "" {
		store, err = chat.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("chat store init failed: %w", err)
		}
		storeMode = "postgres"
	} else {
		store = chat.NewMemoryStore()
		storeMode = "in-memory"
	}

	adapter, err := engine.NewAdapter(engine.Config{
		Mode:       cfg.EngineAdapterMode,
		HTTPURL:    cfg.EngineHTTPURL,
		Timeout:    cfg.EngineTimeout,
		MaxRetries: cfg.EngineMaxRetries,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine adapter init failed: %w", err)
	}

	bridge := engine.NewBridge(adapter, cfg.EngineFallbackText, metrics)
	limiter := policy.NewLimiter(cfg.AnonymousMessageLimit, cfg.AnonymousMessageWindow)
	coord := handoff.NewCoordinator(store, bridge, limiter, metrics)
	api := httpapi.New(cfg, coord, metrics, storeMode)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Coordinator: coord,
		Store:       store,
		Metrics:     metrics,
		StoreMode:   storeMode,
		Cleanup:     store.Close,
	}, nil
}
