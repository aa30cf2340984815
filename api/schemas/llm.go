// File: api/schemas/llm.go
package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ModelTier selects a model class when a request does not pin a model id.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions carries the sampling parameters that participate in the
// prompt cache key. Two requests differing in any of these are distinct.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p,omitempty"`
	MaxOutputTokens int32   `json:"max_output_tokens,omitempty"`
	ForceJSONFormat bool    `json:"force_json_format,omitempty"`
}

// GenerationRequest is a fully rendered prompt bound to a model and its
// sampling parameters.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt,omitempty"`
	UserPrompt   string            `json:"user_prompt"`
	ModelID      string            `json:"model_id"`
	Tier         ModelTier         `json:"tier,omitempty"`
	Options      GenerationOptions `json:"options"`
}

// CacheKey derives the response-cache key: a digest over the rendered text,
// the model identity and the sampling parameters. Identical logical requests
// always produce the same key.
func (r *GenerationRequest) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%.4f\x00%.4f\x00%d\x00%t",
		r.SystemPrompt, r.UserPrompt, r.ModelID,
		r.Options.Temperature, r.Options.TopP,
		r.Options.MaxOutputTokens, r.Options.ForceJSONFormat)
	return hex.EncodeToString(h.Sum(nil))
}

// TokenUsage records the backend's reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

// Completion is a backend's answer to a single generation call.
type Completion struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// ModelResponse is the cached and persisted record of one model interaction.
// RawText and ModelID define value identity; latency and usage are
// observational and excluded from consistency checks.
type ModelResponse struct {
	PromptHash string        `json:"prompt_hash"`
	ModelID    string        `json:"model_id"`
	RawText    string        `json:"raw_text"`
	Usage      TokenUsage    `json:"usage"`
	Latency    time.Duration `json:"latency_ns"`
	Cached     bool          `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SameValue reports whether two responses are interchangeable for cache
// consistency purposes.
func (m *ModelResponse) SameValue(other *ModelResponse) bool {
	return m.RawText == other.RawText && m.ModelID == other.ModelID
}

// PromptRecord pairs a rendered prompt with the template version that
// produced it, for replay and audit.
type PromptRecord struct {
	IncidentKey     IncidentKey `json:"incident_key"`
	TemplateVersion string      `json:"template_version"`
	SystemPrompt    string      `json:"system_prompt,omitempty"`
	UserPrompt      string      `json:"user_prompt"`
	Attempt         int         `json:"attempt"`
}
