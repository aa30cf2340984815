// File: internal/promptgen/renderer_test.go
package promptgen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

func fixture(t *testing.T) (*schemas.Incident, *schemas.ContextWindow) {
	t.Helper()
	inc, err := schemas.NewIncident("", "src/InventoryService.java", "javax-to-jakarta-00001",
		"Replace the javax.ejb import with jakarta.ejb", 3, 3, schemas.SeverityMandatory)
	require.NoError(t, err)

	win := &schemas.ContextWindow{
		IncidentKey:     inc.Key(),
		FilePath:        inc.FilePath,
		Language:        "java",
		StartLine:       1,
		EndLine:         6,
		EnclosingSymbol: "InventoryService",
		EnclosingKind:   "class_declaration",
		ImportsInScope:  []string{"import javax.ejb.Stateless;"},
		CodeSlice:       "import javax.ejb.Stateless;\n@Stateless\npublic class InventoryService {}",
		ASTFingerprint:  "abc123",
	}
	return inc, win
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(config.PromptsConfig{TemplateVersion: "v1"}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRender(t *testing.T) {
	r := newTestRenderer(t)
	inc, win := fixture(t)

	t.Run("includes incident and window fields", func(t *testing.T) {
		rec, err := r.Render(inc, win, nil)
		require.NoError(t, err)

		assert.Equal(t, "v1", rec.TemplateVersion)
		assert.Equal(t, 1, rec.Attempt)
		assert.Contains(t, rec.UserPrompt, "javax-to-jakarta-00001")
		assert.Contains(t, rec.UserPrompt, "Replace the javax.ejb import")
		assert.Contains(t, rec.UserPrompt, "class_declaration InventoryService")
		assert.Contains(t, rec.UserPrompt, "import javax.ejb.Stateless;")
		assert.Contains(t, rec.UserPrompt, win.CodeSlice)
		assert.NotEmpty(t, rec.SystemPrompt)
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, err := r.Render(inc, win, nil)
		require.NoError(t, err)
		b, err := r.Render(inc, win, nil)
		require.NoError(t, err)
		assert.Equal(t, a.UserPrompt, b.UserPrompt)
	})

	t.Run("appends attempt feedback in order", func(t *testing.T) {
		history := []AttemptFeedback{
			{Number: 1, Rejection: "patch rejected (NO_STRUCTURAL_CHANGE): proposal was identical"},
			{Number: 2, Rejection: "patch rejected (PROPOSAL_UNPARSABLE): missing closing brace"},
		}
		rec, err := r.Render(inc, win, history)
		require.NoError(t, err)

		assert.Equal(t, 3, rec.Attempt)
		prompt := rec.UserPrompt
		assert.Contains(t, prompt, "Attempt 1: patch rejected (NO_STRUCTURAL_CHANGE)")
		assert.Contains(t, prompt, "Attempt 2: patch rejected (PROPOSAL_UNPARSABLE)")
		assert.Less(t,
			strings.Index(prompt, "Attempt 1"),
			strings.Index(prompt, "Attempt 2"),
			"feedback must appear in attempt order")
	})

	t.Run("first attempt omits the feedback section", func(t *testing.T) {
		rec, err := r.Render(inc, win, nil)
		require.NoError(t, err)
		assert.NotContains(t, rec.UserPrompt, "Previous attempts were rejected")
	})

	t.Run("rejects mismatched window", func(t *testing.T) {
		other, _ := fixture(t)
		other.RuleID = "different-rule"
		_, err := r.Render(other, win, nil)
		assert.Error(t, err)
	})
}

func TestNewRenderer(t *testing.T) {
	t.Run("rejects unknown version", func(t *testing.T) {
		_, err := NewRenderer(config.PromptsConfig{TemplateVersion: "v999"}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("loads templates from a directory override", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "system.tmpl"), []byte("sys"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "user.tmpl"), []byte("rule={{.RuleID}}"), 0o644))

		r, err := NewRenderer(config.PromptsConfig{TemplateVersion: "v1", TemplateDir: dir}, zap.NewNop())
		require.NoError(t, err)

		inc, win := fixture(t)
		rec, err := r.Render(inc, win, nil)
		require.NoError(t, err)
		assert.Equal(t, "sys", rec.SystemPrompt)
		assert.Equal(t, "rule=javax-to-jakarta-00001", rec.UserPrompt)
	})
}
