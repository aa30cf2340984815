// File: internal/contextbuild/builder.go

// Package contextbuild extracts AST-scoped context windows around incidents.
package contextbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
	"github.com/xkilldash9x/chisel-cli/internal/language"
)

// Builder turns incidents into context windows by locating the smallest
// enclosing declaration around the incident span.
type Builder struct {
	cfg         config.ContextConfig
	projectRoot string
	logger      *zap.Logger
}

func NewBuilder(cfg config.ContextConfig, projectRoot string, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:         cfg,
		projectRoot: projectRoot,
		logger:      logger.Named("contextbuild"),
	}
}

// Build reads the incident's file from disk and extracts its window.
func (b *Builder) Build(ctx context.Context, inc *schemas.Incident) (*schemas.ContextWindow, error) {
	path := inc.FilePath
	if !filepath.IsAbs(path) && b.projectRoot != "" {
		path = filepath.Join(b.projectRoot, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source for %s: %w", inc.Key(), err)
	}
	return b.BuildFromSource(ctx, inc, src)
}

// BuildFromSource extracts a window from in-memory file content. The
// orchestrator uses this form when an earlier patch in the same run already
// rewrote the file.
func (b *Builder) BuildFromSource(ctx context.Context, inc *schemas.Incident, src []byte) (*schemas.ContextWindow, error) {
	lang, err := language.ForFile(inc.FilePath)
	if err != nil {
		return nil, &schemas.UnparsableSourceError{FilePath: inc.FilePath, Reason: err.Error()}
	}

	tree, err := language.Parse(ctx, lang, inc.FilePath, src)
	if err != nil {
		if tree != nil {
			tree.Close()
		}
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	offsets := lineOffsets(src)
	lastLine := len(offsets)
	if inc.StartLine > lastLine {
		return nil, &schemas.MalformedIncidentError{
			Reason: fmt.Sprintf("incident %s starts at line %d but %s has %d lines", inc.Key(), inc.StartLine, inc.FilePath, lastLine),
		}
	}
	endLine := inc.EndLine
	if endLine > lastLine {
		endLine = lastLine
	}

	win := &schemas.ContextWindow{
		IncidentKey:    inc.Key(),
		FilePath:       inc.FilePath,
		Language:       lang.Name(),
		ImportsInScope: collectImports(root, src, lang),
		ASTFingerprint: language.Fingerprint(root, src, lang),
	}

	decl := enclosingDeclaration(root, lang, src, offsets, inc.StartLine, endLine)
	if decl != nil && int(decl.EndByte()-decl.StartByte()) <= b.cfg.MaxSliceBytes {
		win.StartByte = int(decl.StartByte())
		win.EndByte = int(decl.EndByte())
		win.StartLine = int(decl.StartPoint().Row) + 1
		win.EndLine = int(decl.EndPoint().Row) + 1
		win.EnclosingKind = decl.Type()
		if name := decl.ChildByFieldName("name"); name != nil {
			win.EnclosingSymbol = name.Content(src)
		}
	} else {
		// No declaration fits; fall back to a fixed line radius.
		start := inc.StartLine - b.cfg.FallbackRadiusLines
		if start < 1 {
			start = 1
		}
		end := endLine + b.cfg.FallbackRadiusLines
		if end > lastLine {
			end = lastLine
		}
		win.StartLine = start
		win.EndLine = end
		win.StartByte = offsets[start-1]
		win.EndByte = lineEnd(src, offsets, end)
		b.logger.Debug("no enclosing declaration, using line radius",
			zap.String("incident", inc.Key().String()),
			zap.Int("start_line", start),
			zap.Int("end_line", end))
	}

	win.CodeSlice = string(src[win.StartByte:win.EndByte])
	return win, nil
}

// Verify reparses the file backing win and reports StaleContextError when
// the structural fingerprint no longer matches.
func (b *Builder) Verify(ctx context.Context, win *schemas.ContextWindow, src []byte) error {
	lang, err := language.ByName(win.Language)
	if err != nil {
		return err
	}
	tree, err := language.Parse(ctx, lang, win.FilePath, src)
	if err != nil {
		if tree != nil {
			tree.Close()
		}
		return err
	}
	defer tree.Close()
	if language.Fingerprint(tree.RootNode(), src, lang) != win.ASTFingerprint {
		return &schemas.StaleContextError{FilePath: win.FilePath}
	}
	return nil
}

// enclosingDeclaration finds the smallest declaration node whose span covers
// the incident's 1-based line range. The lookup anchors at the start line's
// first non-whitespace byte: column 0 of an indented declaration sits before
// the declaration node itself, and a lookup from there lands in the parent's
// body instead of the declaration.
func enclosingDeclaration(root *sitter.Node, lang language.Language, src []byte, offsets []int, startLine, endLine int) *sitter.Node {
	startRow := uint32(startLine - 1)
	endRow := uint32(endLine - 1)

	startCol := 0
	for i := offsets[startLine-1]; i < len(src) && src[i] != '\n'; i++ {
		if src[i] != ' ' && src[i] != '\t' {
			break
		}
		startCol++
	}
	endCol := lineEnd(src, offsets, endLine) - offsets[endLine-1]

	node := root.NamedDescendantForPointRange(
		sitter.Point{Row: startRow, Column: uint32(startCol)},
		sitter.Point{Row: endRow, Column: uint32(endCol)},
	)
	for node != nil && !node.Equal(root) {
		if lang.IsDeclaration(node.Type()) &&
			node.StartPoint().Row <= startRow && node.EndPoint().Row >= endRow {
			return node
		}
		node = node.Parent()
	}
	return nil
}

// collectImports gathers the file's import statements verbatim.
func collectImports(root *sitter.Node, src []byte, lang language.Language) []string {
	var imports []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if lang.IsImport(child.Type()) {
			imports = append(imports, child.Content(src))
		}
	}
	return imports
}

// lineOffsets returns the byte offset of the start of each line.
func lineOffsets(src []byte) []int {
	offsets := []int{0}
	for i, c := range src {
		if c == '\n' && i+1 < len(src) {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineEnd returns the byte offset just past the content of 1-based line n,
// excluding its trailing newline.
func lineEnd(src []byte, offsets []int, n int) int {
	if n >= len(offsets) {
		return len(src)
	}
	end := offsets[n] - 1 // position of the newline ending line n
	if end < 0 {
		end = 0
	}
	return end
}
