// File: internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient for one
// configured backend.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAICompatClient(cfg, logger)
	case config.ProviderOllama:
		if cfg.Endpoint == "" {
			cfg.Endpoint = "http://localhost:11434/v1/chat/completions"
		}
		return NewOpenAICompatClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider %q. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderOllama)
	}
}
