// File: api/schemas/interfaces.go
package schemas

import "context"

// LLMClient is a single-shot model backend. Implementations perform exactly
// one call per Generate and mark retryable failures with Transient; the
// gateway owns retry, fallback and caching policy.
type LLMClient interface {
	// Generate sends one prompt and returns the completion. It must honor
	// ctx cancellation and deadlines.
	Generate(ctx context.Context, req GenerationRequest) (Completion, error)

	// ModelID reports the backend's configured model identifier.
	ModelID() string

	// Close releases any underlying transport resources.
	Close() error
}

// ResponseCache stores model responses keyed by prompt hash. Entries are
// write-once: a Put over an existing key with a different value must return
// a CacheConsistencyError, and an identical re-Put is a silent no-op.
type ResponseCache interface {
	Get(key string) (*ModelResponse, bool)
	Put(key string, resp *ModelResponse) error
	Exists(key string) bool
	Len() int
}
