// File: internal/llmclient/offline.go
package llmclient

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

// OfflineClient refuses every call. Replay runs install it behind the
// gateway so cached responses are served normally while any cache miss
// fails fast instead of reaching the network.
type OfflineClient struct {
	modelID string
}

var _ schemas.LLMClient = (*OfflineClient)(nil)

func NewOfflineClient(modelID string) *OfflineClient {
	return &OfflineClient{modelID: modelID}
}

func (c *OfflineClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.Completion, error) {
	// Permanent: retrying or falling back cannot help in offline mode.
	return schemas.Completion{}, fmt.Errorf("backend %q is unavailable in offline replay mode", c.modelID)
}

func (c *OfflineClient) ModelID() string { return c.modelID }

func (c *OfflineClient) Close() error { return nil }
