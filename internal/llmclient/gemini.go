// File: internal/llmclient/gemini.go

// Package llmclient provides single-shot model backends. Clients perform
// exactly one call per Generate and mark retryable failures; retry, fallback
// and caching policy live in the gateway.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

// GeminiClient talks to the Google Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	cfg    config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		cfg:    cfg,
		logger: logger.Named("llmclient.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

func (c *GeminiClient) ModelID() string { return c.cfg.Model }

// Generate performs one generation call. Rate-limit and server-side failures
// come back marked transient so the gateway can retry them.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.Completion, error) {
	if c.cfg.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Options.Temperature),
	}
	if req.Options.TopP > 0 {
		genCfg.TopP = genai.Ptr(req.Options.TopP)
	}
	if req.Options.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = req.Options.MaxOutputTokens
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.UserPrompt), genCfg)
	duration := time.Since(start)
	if err != nil {
		return schemas.Completion{}, c.classify(err)
	}

	text := resp.Text()
	if text == "" {
		// Empty candidates usually mean truncation or a server hiccup.
		return schemas.Completion{}, schemas.Transient(fmt.Errorf("gemini returned no content for model %s", c.cfg.Model))
	}

	completion := schemas.Completion{Text: text}
	if resp.UsageMetadata != nil {
		completion.Usage = schemas.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	c.logger.Info("generation complete",
		zap.Duration("duration", duration),
		zap.Int32("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int32("completion_tokens", completion.Usage.CompletionTokens))
	return completion, nil
}

// classify decides whether a failure is worth retrying.
func (c *GeminiClient) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.Transient(&schemas.ModelTimeoutError{ModelID: c.cfg.Model})
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			c.logger.Warn("transient gemini API error", zap.Int("status", apiErr.Code), zap.Error(err))
			return schemas.Transient(err)
		}
		c.logger.Error("permanent gemini API error", zap.Int("status", apiErr.Code), zap.Error(err))
		return err
	}
	// Network-level failures (connection reset, DNS) are retryable.
	return schemas.Transient(err)
}

// Close is a no-op: the genai SDK owns its HTTP transport and exposes no
// shutdown hook.
func (c *GeminiClient) Close() error {
	return nil
}
