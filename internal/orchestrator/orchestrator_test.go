// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
	"github.com/xkilldash9x/chisel-cli/internal/contextbuild"
	"github.com/xkilldash9x/chisel-cli/internal/gateway"
	"github.com/xkilldash9x/chisel-cli/internal/llmclient"
	"github.com/xkilldash9x/chisel-cli/internal/promptgen"
	"github.com/xkilldash9x/chisel-cli/internal/respcache"
	"github.com/xkilldash9x/chisel-cli/internal/validator"
)

const inventoryService = `package com.example.inventory;

import javax.ejb.Stateless;
import java.util.List;

@Stateless
public class InventoryService {

    private List<String> items;

    public int countItems() {
        return items.size();
    }
}
`

// The class declaration spans lines 6-14; its byte span starts at the
// annotation because modifiers belong to the declaration node.
const classSlice = `@Stateless
public class InventoryService {

    private List<String> items;

    public int countItems() {
        return items.size();
    }
}`

const methodSlice = `public int countItems() {
        return items.size();
    }`

// scriptedClient is a backend that always answers with the same completion.
type scriptedClient struct {
	modelID string
	text    string
	calls   int32
}

func (c *scriptedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.Completion, error) {
	atomic.AddInt32(&c.calls, 1)
	return schemas.Completion{Text: c.text}, nil
}

func (c *scriptedClient) ModelID() string { return c.modelID }
func (c *scriptedClient) Close() error    { return nil }

// gwResult scripts one fake gateway turn.
type gwResult struct {
	text string
	err  error
}

type fakeGateway struct {
	mu        sync.Mutex
	responses []gwResult
	calls     int
	prompts   []string
}

func (f *fakeGateway) Complete(ctx context.Context, req schemas.GenerationRequest) (*schemas.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.UserPrompt)

	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &schemas.ModelResponse{
		PromptHash: req.CacheKey(),
		ModelID:    req.ModelID,
		RawText:    r.text,
	}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func jsonMarshal(v interface{}) (string, error) {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	return string(raw), err
}

func proposal(t *testing.T, updated string) string {
	t.Helper()
	raw, err := jsonMarshal(map[string]string{
		"updated_code": updated,
		"reasoning":    "migrate the annotation",
	})
	require.NoError(t, err)
	return raw
}

func testConfig(root string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.AnalysisCfg.ProjectRoot = root
	cfg.EngineCfg.WorkerConcurrency = 2
	cfg.EngineCfg.MaxRetries = 1
	cfg.LLMCfg.Models["gemini-pro"] = config.LLMModelConfig{
		Provider:    config.ProviderGemini,
		Model:       "gemini-2.5-pro",
		Temperature: 0.2,
		MaxTokens:   2048,
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, gw ModelGateway) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	builder := contextbuild.NewBuilder(cfg.Context(), cfg.Analysis().ProjectRoot, logger)
	renderer, err := promptgen.NewRenderer(cfg.Prompts(), logger)
	require.NoError(t, err)
	return New(cfg, builder, renderer, gw, validator.New(logger), logger)
}

func writeFixture(t *testing.T, name, content string) (root, rel string) {
	t.Helper()
	root = t.TempDir()
	rel = filepath.Join("src", name)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	return root, rel
}

func mkIncident(t *testing.T, file string, line int, rule string) *schemas.Incident {
	t.Helper()
	inc, err := schemas.NewIncident("", file, rule, "javax packages moved to jakarta", line, line, schemas.SeverityMandatory)
	require.NoError(t, err)
	return inc
}

func TestRunSolvesIncident(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	fixed := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	gw := &fakeGateway{responses: []gwResult{{text: proposal(t, fixed)}}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, schemas.StatusSolved, res.Status)
	require.NotNil(t, res.Patch)
	assert.Contains(t, res.Patch.UnifiedDiff, "-@Stateless")
	assert.Contains(t, res.Patch.UnifiedDiff, "+@jakarta.ejb.Stateless")
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "gemini-pro", res.Attempts[0].ModelID)
	assert.Empty(t, res.Attempts[0].Rejection)
	assert.Equal(t, 1, gw.callCount())
}

func TestRunSkipsUnparsableSourceWithoutModelCall(t *testing.T) {
	root, rel := writeFixture(t, "Broken.java", "public class Broken {{{\n")
	gw := &fakeGateway{responses: []gwResult{{text: "unused"}}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 1, "rule-x")})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusSkipped, results[0].Status)
	assert.Contains(t, results[0].FailureReason, "unparsable")
	assert.Zero(t, gw.callCount(), "skipped incidents never reach the gateway")
}

func TestRunSkipsMissingFile(t *testing.T) {
	root := t.TempDir()
	gw := &fakeGateway{responses: []gwResult{{text: "unused"}}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, "src/Absent.java", 1, "rule-x")})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusSkipped, results[0].Status)
	assert.Contains(t, results[0].FailureReason, "reading target file")
	assert.Zero(t, gw.callCount())
}

func TestRunRetriesRejectionWithFeedback(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	fixed := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	gw := &fakeGateway{responses: []gwResult{
		{text: "I cannot produce a patch for this."}, // no JSON, no fence
		{text: proposal(t, fixed)},
	}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	require.NoError(t, err)

	res := results[0]
	assert.Equal(t, schemas.StatusSolved, res.Status)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, string(schemas.ReasonUnparsable), res.Attempts[0].Rejection)
	assert.Empty(t, res.Attempts[1].Rejection)

	require.Equal(t, 2, gw.callCount())
	assert.NotContains(t, gw.prompts[0], "Previous attempts")
	assert.Contains(t, gw.prompts[1], "Previous attempts", "second prompt carries rejection feedback")
}

func TestRunFailsWhenAttemptsExhausted(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	gw := &fakeGateway{responses: []gwResult{{text: "still not a patch"}}}

	cfg := testConfig(root)
	cfg.EngineCfg.MaxRetries = 1 // two attempts total
	o := newOrchestrator(t, cfg, gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	require.NoError(t, err)

	res := results[0]
	assert.Equal(t, schemas.StatusFailed, res.Status)
	assert.Contains(t, res.FailureReason, "no acceptable patch after 2 attempts")
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, 2, gw.callCount())
}

func TestRunFailsOnGatewayExhaustion(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	unavailable := &schemas.ModelUnavailableError{
		Backends: []string{"gemini-pro"},
		Last:     &schemas.ModelTimeoutError{ModelID: "gemini-pro"},
	}
	gw := &fakeGateway{responses: []gwResult{{err: unavailable}}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	require.NoError(t, err)

	res := results[0]
	assert.Equal(t, schemas.StatusFailed, res.Status)
	assert.Contains(t, res.FailureReason, "exhausted")
	assert.Equal(t, 1, gw.callCount(), "exhaustion is not retried by the orchestrator")
}

func TestRunAbortsOnCacheInconsistency(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	gw := &fakeGateway{responses: []gwResult{{err: &schemas.CacheConsistencyError{Key: "deadbeef"}}}}

	o := newOrchestrator(t, testConfig(root), gw)
	incidents := []*schemas.Incident{
		mkIncident(t, rel, 6, "javax-to-jakarta-00001"),
	}
	_, err := o.Run(context.Background(), incidents)
	var inconsistent *schemas.CacheConsistencyError
	require.ErrorAs(t, err, &inconsistent)
}

func TestRunCancellationSkipsRemaining(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	gw := &fakeGateway{responses: []gwResult{{text: "unused"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(ctx, []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusSkipped, results[0].Status)
	assert.Equal(t, "cancelled", results[0].FailureReason)
	assert.Zero(t, gw.callCount())
}

func TestRetryFailedReopensOnlyFailed(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	fixed := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	unavailable := &schemas.ModelUnavailableError{Backends: []string{"gemini-pro"}}
	gw := &fakeGateway{responses: []gwResult{
		{err: unavailable},
		{text: proposal(t, fixed)},
	}}

	o := newOrchestrator(t, testConfig(root), gw)
	results, err := o.Run(context.Background(), []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")})
	require.NoError(t, err)
	require.Equal(t, schemas.StatusFailed, results[0].Status)

	results, err = o.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusSolved, results[0].Status)
	assert.Equal(t, 2, gw.callCount())

	// Nothing left to retry.
	results, err = o.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusSolved, results[0].Status)
	assert.Equal(t, 2, gw.callCount())
}

func TestRunSerializesIncidentsSharingAFile(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)

	fixedClass := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	fixedMethod := strings.Replace(methodSlice, "items.size()", "items == null ? 0 : items.size()", 1)
	gw := &fakeGateway{responses: []gwResult{
		{text: proposal(t, fixedClass)},
		{text: proposal(t, fixedMethod)},
	}}

	o := newOrchestrator(t, testConfig(root), gw)
	incidents := []*schemas.Incident{
		mkIncident(t, rel, 11, "null-guard-size"),
		mkIncident(t, rel, 6, "javax-to-jakarta-00001"),
	}
	results, err := o.Run(context.Background(), incidents)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Ordered by start line within the file.
	assert.Equal(t, 6, results[0].Incident.StartLine)
	assert.Equal(t, 11, results[1].Incident.StartLine)
	require.Equal(t, schemas.StatusSolved, results[0].Status)
	require.Equal(t, schemas.StatusSolved, results[1].Status)

	// The second patch was validated against the first patch's output, so
	// its full file carries both edits.
	final := string(results[1].Patch.PatchedFile)
	assert.Contains(t, final, "@jakarta.ejb.Stateless")
	assert.Contains(t, final, "items == null ? 0 : items.size()")
}

func TestResultsOrderIsDeterministic(t *testing.T) {
	rootA, relA := writeFixture(t, "A.java", inventoryService)
	relB := filepath.Join("src", "B.java")
	require.NoError(t, os.WriteFile(filepath.Join(rootA, relB), []byte(inventoryService), 0o644))

	fixed := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	gw := &fakeGateway{responses: []gwResult{{text: proposal(t, fixed)}}}

	o := newOrchestrator(t, testConfig(rootA), gw)
	incidents := []*schemas.Incident{
		mkIncident(t, relB, 6, "javax-to-jakarta-00001"),
		mkIncident(t, relA, 6, "javax-to-jakarta-00001"),
	}
	results, err := o.Run(context.Background(), incidents)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, relA, results[0].Incident.FilePath)
	assert.Equal(t, relB, results[1].Incident.FilePath)
}

func TestRunReplayFromCacheIsDeterministic(t *testing.T) {
	root, rel := writeFixture(t, "InventoryService.java", inventoryService)
	fixed := strings.Replace(classSlice, "@Stateless", "@jakarta.ejb.Stateless", 1)
	cfg := testConfig(root)
	incident := func() []*schemas.Incident {
		return []*schemas.Incident{mkIncident(t, rel, 6, "javax-to-jakarta-00001")}
	}

	cache := respcache.New(zaptest.NewLogger(t))
	live := &scriptedClient{modelID: "gemini-2.5-pro", text: proposal(t, fixed)}
	liveGW, err := gateway.New(cfg.LLM(), cache, map[string]schemas.LLMClient{"gemini-pro": live}, zaptest.NewLogger(t))
	require.NoError(t, err)

	first, err := newOrchestrator(t, cfg, liveGW).Run(context.Background(), incident())
	require.NoError(t, err)
	require.Equal(t, schemas.StatusSolved, first[0].Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&live.calls))

	// Same cache, backends replaced by offline stubs: every answer must
	// come from the cache and reproduce the run byte for byte.
	replayGW, err := gateway.New(cfg.LLM(), cache,
		map[string]schemas.LLMClient{"gemini-pro": llmclient.NewOfflineClient("gemini-2.5-pro")},
		zaptest.NewLogger(t))
	require.NoError(t, err)

	second, err := newOrchestrator(t, cfg, replayGW).Run(context.Background(), incident())
	require.NoError(t, err)
	require.Equal(t, schemas.StatusSolved, second[0].Status)
	require.Len(t, second[0].Attempts, 1)
	assert.True(t, second[0].Attempts[0].Cached)
	assert.Equal(t, first[0].Patch.UnifiedDiff, second[0].Patch.UnifiedDiff)
	assert.Equal(t, first[0].Patch.PatchedFile, second[0].Patch.PatchedFile)
}
