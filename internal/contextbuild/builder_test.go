// File: internal/contextbuild/builder_test.go
package contextbuild

import (
	"context"
	"errors"
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

const inventoryService = `package com.acme.inventory;

import javax.ejb.Stateless;
import javax.persistence.EntityManager;

@Stateless
public class InventoryService {

    private EntityManager em;

    public int countItems() {
        return em.createQuery("select i from Item i").getResultList().size();
    }

    public void restock(String sku, int amount) {
        Item item = em.find(Item.class, sku);
        item.add(amount);
    }
}
`

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	cfg := config.ContextConfig{FallbackRadiusLines: 3, MaxSliceBytes: 32768}
	return NewBuilder(cfg, "", zap.NewNop())
}

func mustIncident(t *testing.T, file string, line int) *schemas.Incident {
	t.Helper()
	inc, err := schemas.NewIncident("", file, "javax-to-jakarta-00001", "javax.ejb is deprecated", line, line, schemas.SeverityMandatory)
	require.NoError(t, err)
	return inc
}

func TestBuildFromSource(t *testing.T) {
	ctx := context.Background()
	b := testBuilder(t)
	src := []byte(inventoryService)

	t.Run("selects smallest enclosing declaration", func(t *testing.T) {
		// Line 12 sits inside countItems.
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), src)
		require.NoError(t, err)

		assert.Equal(t, "method_declaration", win.EnclosingKind)
		assert.Equal(t, "countItems", win.EnclosingSymbol)
		assert.Contains(t, win.CodeSlice, "createQuery")
		assert.NotContains(t, win.CodeSlice, "restock", "window should not leak the sibling method")
	})

	t.Run("incident on the declaration line selects that declaration", func(t *testing.T) {
		// Line 11 is the indented `public int countItems() {` line itself.
		// The lookup must not slide before the method into the class body.
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 11), src)
		require.NoError(t, err)

		assert.Equal(t, "method_declaration", win.EnclosingKind)
		assert.Equal(t, "countItems", win.EnclosingSymbol)
		assert.Equal(t, 11, win.StartLine)
		assert.Equal(t, 13, win.EndLine)
		assert.NotContains(t, win.CodeSlice, "@Stateless", "window must not swallow the class")
	})

	t.Run("annotation incident resolves to the class", func(t *testing.T) {
		// Line 6 is the @Stateless annotation, part of the class declaration.
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 6), src)
		require.NoError(t, err)

		assert.Equal(t, "class_declaration", win.EnclosingKind)
		assert.Equal(t, "InventoryService", win.EnclosingSymbol)
		assert.Contains(t, win.CodeSlice, "@Stateless")
	})

	t.Run("slice is verbatim file content", func(t *testing.T) {
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), src)
		require.NoError(t, err)
		assert.Equal(t, string(src[win.StartByte:win.EndByte]), win.CodeSlice)
	})

	t.Run("collects imports", func(t *testing.T) {
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), src)
		require.NoError(t, err)
		require.Len(t, win.ImportsInScope, 2)
		assert.Contains(t, win.ImportsInScope[0], "javax.ejb.Stateless")
	})

	t.Run("falls back to line radius at top level", func(t *testing.T) {
		// Line 1 is the package statement; nothing encloses it.
		win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 1), src)
		require.NoError(t, err)

		assert.Empty(t, win.EnclosingKind)
		assert.Equal(t, 1, win.StartLine)
		assert.Equal(t, 4, win.EndLine)
		assert.Contains(t, win.CodeSlice, "package com.acme.inventory")
	})

	t.Run("rejects incident past end of file", func(t *testing.T) {
		_, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 5000), src)
		var malformed *schemas.MalformedIncidentError
		assert.True(t, errors.As(err, &malformed))
	})

	t.Run("rejects broken source", func(t *testing.T) {
		broken := []byte(strings.Replace(inventoryService, "public class", "public klass", 1))
		_, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), broken)
		var unparsable *schemas.UnparsableSourceError
		assert.True(t, errors.As(err, &unparsable))
	})

	t.Run("oversized declaration falls back to radius", func(t *testing.T) {
		tight := NewBuilder(config.ContextConfig{FallbackRadiusLines: 1, MaxSliceBytes: 16}, "", zap.NewNop())
		win, err := tight.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), src)
		require.NoError(t, err)
		assert.Empty(t, win.EnclosingKind)
		assert.Equal(t, 11, win.StartLine)
		assert.Equal(t, 13, win.EndLine)
	})
}

func TestBuildFromDisk(t *testing.T) {
	dir := t.TempDir()
	rel := filepath.Join("src", "InventoryService.java")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(inventoryService), 0o644))

	cfg := config.ContextConfig{FallbackRadiusLines: 3, MaxSliceBytes: 32768}
	b := NewBuilder(cfg, dir, zap.NewNop())

	win, err := b.Build(context.Background(), mustIncident(t, rel, 12))
	require.NoError(t, err)
	assert.Equal(t, "countItems", win.EnclosingSymbol)
	assert.NotEmpty(t, win.ASTFingerprint)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	b := testBuilder(t)
	src := []byte(inventoryService)

	win, err := b.BuildFromSource(ctx, mustIncident(t, "InventoryService.java", 12), src)
	require.NoError(t, err)

	t.Run("fresh window passes", func(t *testing.T) {
		assert.NoError(t, b.Verify(ctx, win, src))
	})

	t.Run("reformatting does not invalidate", func(t *testing.T) {
		reformatted := []byte(strings.ReplaceAll(inventoryService, "    ", "\t"))
		assert.NoError(t, b.Verify(ctx, win, reformatted))
	})

	t.Run("structural edit invalidates", func(t *testing.T) {
		edited := []byte(strings.Replace(inventoryService, "countItems", "tallyItems", 1))
		err := b.Verify(ctx, win, edited)
		var stale *schemas.StaleContextError
		assert.True(t, errors.As(err, &stale))
	})
}
