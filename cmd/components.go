// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
	"github.com/xkilldash9x/chisel-cli/internal/contextbuild"
	"github.com/xkilldash9x/chisel-cli/internal/gateway"
	"github.com/xkilldash9x/chisel-cli/internal/llmclient"
	"github.com/xkilldash9x/chisel-cli/internal/observability"
	"github.com/xkilldash9x/chisel-cli/internal/orchestrator"
	"github.com/xkilldash9x/chisel-cli/internal/promptgen"
	"github.com/xkilldash9x/chisel-cli/internal/respcache"
	"github.com/xkilldash9x/chisel-cli/internal/store"
	"github.com/xkilldash9x/chisel-cli/internal/validator"
)

// engineComponents holds the initialized remediation services.
type engineComponents struct {
	Cache        *respcache.Cache
	Gateway      *gateway.Gateway
	Orchestrator *orchestrator.Orchestrator
	Store        *store.Store
	DBPool       *pgxpool.Pool
}

// Shutdown gracefully closes all components.
func (ec *engineComponents) Shutdown() {
	if ec.Gateway != nil {
		if err := ec.Gateway.Close(); err != nil {
			observability.GetLogger().Warn("Error closing gateway backends", zap.Error(err))
		}
	}
	if ec.DBPool != nil {
		ec.DBPool.Close()
	}
}

// initializeEngine handles dependency injection for the remediation
// pipeline. With offline set, backends are stubs that refuse every call so
// only cached responses can answer.
func initializeEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, offline bool) (*engineComponents, error) {
	components := &engineComponents{}

	// 1. Response cache, optionally preloaded from a snapshot file.
	cache := respcache.New(logger)
	if cfg.Cache().Preload && cfg.Cache().SnapshotPath != "" {
		if err := cache.LoadSnapshot(cfg.Cache().SnapshotPath); err != nil {
			return components, fmt.Errorf("preloading cache snapshot: %w", err)
		}
	}
	components.Cache = cache

	// 2. Database and store (optional).
	if cfg.Database().URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize database store: %w", err)
		}
		components.Store = dbStore

		if cfg.Cache().Preload {
			if _, err := dbStore.PreloadResponses(ctx, cache); err != nil {
				return components, fmt.Errorf("preloading cache from database: %w", err)
			}
		}
	}

	// 3. Model backends and gateway.
	clients := make(map[string]schemas.LLMClient, len(cfg.LLM().Models))
	for name, modelCfg := range cfg.LLM().Models {
		if offline {
			clients[name] = llmclient.NewOfflineClient(name)
			continue
		}
		client, err := llmclient.NewClient(ctx, modelCfg, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize backend %q: %w", name, err)
		}
		clients[name] = client
	}

	gw, err := gateway.New(cfg.LLM(), cache, clients, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize model gateway: %w", err)
	}
	components.Gateway = gw

	// 4. Pipeline stages and orchestrator.
	builder := contextbuild.NewBuilder(cfg.Context(), cfg.Analysis().ProjectRoot, logger)
	renderer, err := promptgen.NewRenderer(cfg.Prompts(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize prompt renderer: %w", err)
	}
	components.Orchestrator = orchestrator.New(cfg, builder, renderer, gw, validator.New(logger), logger)

	return components, nil
}
