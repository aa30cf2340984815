// File: internal/llmclient/openaicompat.go
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenAICompatClient speaks the OpenAI chat completions wire format, which
// also covers Ollama and most self-hosted inference servers.
type OpenAICompatClient struct {
	endpoint   string
	apiKey     string
	cfg        config.LLMModelConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.LLMClient = (*OpenAICompatClient)(nil)

// -- chat completions wire structures --

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	TopP           float32         `json:"top_p,omitempty"`
	MaxTokens      int32           `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
		TotalTokens      int32 `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAICompatClient initializes the client. Endpoint is required since
// there is no single canonical server for this protocol.
func NewOpenAICompatClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAICompatClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for an OpenAI-compatible backend")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAICompatClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llmclient.openai").With(zap.String("model", cfg.Model)),
	}, nil
}

func (c *OpenAICompatClient) ModelID() string { return c.cfg.Model }

// Generate performs one chat completion call.
func (c *OpenAICompatClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.Completion, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   req.Options.MaxOutputTokens,
	}
	if req.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if req.Options.ForceJSONFormat {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.Completion{}, fmt.Errorf("marshaling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return schemas.Completion{}, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return schemas.Completion{}, schemas.Transient(&schemas.ModelTimeoutError{ModelID: c.cfg.Model})
		}
		c.logger.Warn("network error during chat completion", zap.Error(err))
		return schemas.Completion{}, schemas.Transient(fmt.Errorf("executing chat request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return schemas.Completion{}, schemas.Transient(fmt.Errorf("reading chat response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return schemas.Completion{}, c.handleAPIError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return schemas.Completion{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return schemas.Completion{}, schemas.Transient(fmt.Errorf("backend returned no choices for model %s", c.cfg.Model))
	}

	c.logger.Info("generation complete",
		zap.Duration("duration", duration),
		zap.Int32("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int32("completion_tokens", parsed.Usage.CompletionTokens))

	return schemas.Completion{
		Text: parsed.Choices[0].Message.Content,
		Usage: schemas.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAICompatClient) handleAPIError(statusCode int, body []byte) error {
	err := fmt.Errorf("chat API error: status %d, body: %s", statusCode, string(body))
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.Warn("transient chat API error", zap.Int("status", statusCode))
		return schemas.Transient(err)
	default:
		c.logger.Error("permanent chat API error", zap.Int("status", statusCode), zap.String("response", string(body)))
		return err
	}
}

// Close is a no-op for the shared HTTP transport.
func (c *OpenAICompatClient) Close() error { return nil }
