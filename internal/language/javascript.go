// File: internal/language/javascript.go
package language

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

type jsLang struct{}

func init() {
	register(jsLang{}, ".js", ".jsx", ".mjs", ".cjs")
}

func (jsLang) Name() string              { return "javascript" }
func (jsLang) Grammar() *sitter.Language { return javascript.GetLanguage() }

var jsDeclarations = map[string]struct{}{
	"function_declaration":           {},
	"generator_function_declaration": {},
	"method_definition":              {},
	"class_declaration":              {},
	"arrow_function":                 {},
	"function_expression":            {},
	"lexical_declaration":            {},
	"variable_declaration":           {},
}

func (jsLang) IsDeclaration(kind string) bool {
	_, ok := jsDeclarations[kind]
	return ok
}

func (jsLang) IsImport(kind string) bool { return kind == "import_statement" }

func (jsLang) IsComment(kind string) bool { return kind == "comment" }
