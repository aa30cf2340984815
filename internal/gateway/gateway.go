// File: internal/gateway/gateway.go

// Package gateway mediates every model interaction: cache lookups, request
// coalescing, retries with exponential backoff, rate limiting and ordered
// fallback across backends.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

// backend pairs a client with its rate limiter.
type backend struct {
	name    string
	client  schemas.LLMClient
	limiter *rate.Limiter
}

// Gateway is the single entry point for generation calls. Identical prompts
// are answered once: first from the cache, then by coalescing in-flight
// duplicates, and only then by calling a backend.
type Gateway struct {
	cfg      config.LLMRouterConfig
	cache    schemas.ResponseCache
	backends map[string]*backend
	group    singleflight.Group
	logger   *zap.Logger
}

// New wires the gateway from configured backends. clients maps backend names
// (keys of cfg.Models) to constructed clients.
func New(cfg config.LLMRouterConfig, cache schemas.ResponseCache, clients map[string]schemas.LLMClient, logger *zap.Logger) (*Gateway, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("gateway requires at least one backend client")
	}
	backends := make(map[string]*backend, len(clients))
	for name, client := range clients {
		modelCfg, ok := cfg.Models[name]
		if !ok {
			return nil, fmt.Errorf("backend %q has no entry in llm.models", name)
		}
		limiter := rate.NewLimiter(rate.Inf, 1)
		if modelCfg.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(modelCfg.RequestsPerSecond), 1)
		}
		backends[name] = &backend{name: name, client: client, limiter: limiter}
	}
	return &Gateway{
		cfg:      cfg,
		cache:    cache,
		backends: backends,
		logger:   logger.Named("gateway"),
	}, nil
}

// Complete answers a generation request. The response is cached under the
// request's prompt hash; a later identical request never reaches a backend.
func (g *Gateway) Complete(ctx context.Context, req schemas.GenerationRequest) (*schemas.ModelResponse, error) {
	key := req.CacheKey()

	if resp, ok := g.cache.Get(key); ok {
		hit := *resp
		hit.Cached = true
		g.logger.Debug("cache hit", zap.String("key", key[:12]))
		return &hit, nil
	}

	v, err, shared := g.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// populated the cache while this one queued.
		if resp, ok := g.cache.Get(key); ok {
			hit := *resp
			hit.Cached = true
			return &hit, nil
		}
		resp, err := g.dispatch(ctx, req, key)
		if err != nil {
			return nil, err
		}
		if err := g.cache.Put(key, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*schemas.ModelResponse)
	if shared {
		dup := *resp
		dup.Cached = true
		return &dup, nil
	}
	return resp, nil
}

// dispatch runs the fallback chain: the request's primary backend followed
// by the configured fallback order, each with its own retry budget.
func (g *Gateway) dispatch(ctx context.Context, req schemas.GenerationRequest, key string) (*schemas.ModelResponse, error) {
	chain := g.chainFor(req)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no backend available for model %q tier %q", req.ModelID, req.Tier)
	}

	var lastErr error
	tried := make([]string, 0, len(chain))
	for _, b := range chain {
		tried = append(tried, b.name)
		resp, err := g.callWithRetry(ctx, b, req, key)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !schemas.IsTransient(err) {
			// Permanent failures (safety blocks, bad requests) will fail on
			// every backend the same way; do not burn the fallbacks.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("backend exhausted, falling back",
			zap.String("backend", b.name),
			zap.Error(err))
	}
	return nil, &schemas.ModelUnavailableError{Backends: tried, Last: lastErr}
}

// chainFor resolves the ordered backends for a request: its primary model
// first, then the fallback order minus duplicates.
func (g *Gateway) chainFor(req schemas.GenerationRequest) []*backend {
	primary := g.primaryName(req)
	var chain []*backend
	seen := make(map[string]bool)
	if b, ok := g.backends[primary]; ok {
		chain = append(chain, b)
		seen[primary] = true
	}
	for _, name := range g.cfg.FallbackOrder {
		if seen[name] {
			continue
		}
		if b, ok := g.backends[name]; ok {
			chain = append(chain, b)
			seen[name] = true
		}
	}
	return chain
}

func (g *Gateway) primaryName(req schemas.GenerationRequest) string {
	if req.ModelID != "" {
		if _, ok := g.backends[req.ModelID]; ok {
			return req.ModelID
		}
		// ModelID may be the provider's model string rather than a backend
		// name; match it against the configured models.
		for name, mc := range g.cfg.Models {
			if mc.Model == req.ModelID {
				return name
			}
		}
	}
	if req.Tier == schemas.TierFast {
		return g.cfg.DefaultFastModel
	}
	return g.cfg.DefaultPowerfulModel
}

// callWithRetry performs one backend's bounded retry loop.
func (g *Gateway) callWithRetry(ctx context.Context, b *backend, req schemas.GenerationRequest, key string) (*schemas.ModelResponse, error) {
	bo := backoff.NewExponentialBackOff()
	if g.cfg.Retry.InitialInterval > 0 {
		bo.InitialInterval = g.cfg.Retry.InitialInterval
	}
	if g.cfg.Retry.MaxInterval > 0 {
		bo.MaxInterval = g.cfg.Retry.MaxInterval
	}
	bo.MaxElapsedTime = g.cfg.Retry.MaxElapsedTime

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(g.cfg.Retry.MaxAttempts-1)),
		ctx,
	)

	var completion schemas.Completion
	var latency time.Duration
	operation := func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		c, err := b.client.Generate(ctx, req)
		latency = time.Since(start)
		if err != nil {
			if schemas.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		completion = c
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return &schemas.ModelResponse{
		PromptHash: key,
		ModelID:    b.client.ModelID(),
		RawText:    completion.Text,
		Usage:      completion.Usage,
		Latency:    latency,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Close shuts down every backend client.
func (g *Gateway) Close() error {
	var firstErr error
	for _, b := range g.backends {
		if err := b.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
