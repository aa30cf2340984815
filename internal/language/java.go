// File: internal/language/java.go
package language

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

type javaLang struct{}

func init() {
	register(javaLang{}, ".java")
}

func (javaLang) Name() string              { return "java" }
func (javaLang) Grammar() *sitter.Language { return java.GetLanguage() }

// javaDeclarations are the node kinds usable as enclosing-context anchors,
// ordered here only for documentation; lookup is by set membership. Methods
// and constructors are preferred over their containing classes because the
// builder picks the smallest enclosing declaration.
var javaDeclarations = map[string]struct{}{
	"method_declaration":          {},
	"constructor_declaration":     {},
	"class_declaration":           {},
	"interface_declaration":       {},
	"enum_declaration":            {},
	"record_declaration":          {},
	"annotation_type_declaration": {},
	"field_declaration":           {},
}

func (javaLang) IsDeclaration(kind string) bool {
	_, ok := javaDeclarations[kind]
	return ok
}

func (javaLang) IsImport(kind string) bool { return kind == "import_declaration" }

func (javaLang) IsComment(kind string) bool {
	return kind == "comment" || kind == "line_comment" || kind == "block_comment"
}
