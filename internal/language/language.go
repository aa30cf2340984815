// File: internal/language/language.go

// Package language wraps the tree-sitter grammars the engine understands and
// provides structural hashing over their syntax trees.
package language

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

// Language describes one supported source language: its grammar and the node
// kinds the context builder and validator care about.
type Language interface {
	// Name is the canonical lowercase language identifier.
	Name() string

	// Grammar returns the tree-sitter language for parsing.
	Grammar() *sitter.Language

	// IsDeclaration reports whether a node kind counts as an enclosing
	// declaration for context extraction.
	IsDeclaration(kind string) bool

	// IsImport reports whether a node kind is an import statement.
	IsImport(kind string) bool

	// IsComment reports whether a node kind is a comment, excluded from
	// structural signatures.
	IsComment(kind string) bool
}

var registry = map[string]Language{}

// extIndex maps file extensions (with dot) to registered languages.
var extIndex = map[string]Language{}

func register(lang Language, exts ...string) {
	registry[lang.Name()] = lang
	for _, ext := range exts {
		extIndex[ext] = lang
	}
}

// ForFile resolves the language responsible for a source path from its
// extension.
func ForFile(path string) (Language, error) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extIndex[ext]
	if !ok {
		return nil, fmt.Errorf("no registered language for extension %q (%s)", ext, path)
	}
	return lang, nil
}

// ByName resolves a registered language by its canonical name.
func ByName(name string) (Language, error) {
	lang, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", name)
	}
	return lang, nil
}

// Supported lists the canonical names of all registered languages.
func Supported() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Parse produces a syntax tree for src. A tree whose root contains syntax
// errors is returned alongside an UnparsableSourceError so callers can
// distinguish a broken file from a parser failure.
func Parse(ctx context.Context, lang Language, filePath string, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.Grammar())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &schemas.UnparsableSourceError{FilePath: filePath, Reason: err.Error()}
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, &schemas.UnparsableSourceError{FilePath: filePath, Reason: "parser produced no root node"}
	}
	if root.HasError() {
		return tree, &schemas.UnparsableSourceError{FilePath: filePath, Reason: "syntax tree contains error nodes"}
	}
	return tree, nil
}
