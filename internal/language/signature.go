// File: internal/language/signature.go
package language

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// StructuralSignature serializes a syntax tree into a canonical string that
// is insensitive to formatting and comments but sensitive to any real edit.
// Named nodes contribute their kind; leaves additionally contribute their
// source text, so renaming an identifier or changing a literal changes the
// signature while reindenting does not.
func StructuralSignature(root *sitter.Node, src []byte, lang Language) string {
	var b strings.Builder
	writeSignature(&b, root, src, lang)
	return b.String()
}

func writeSignature(b *strings.Builder, n *sitter.Node, src []byte, lang Language) {
	if lang.IsComment(n.Type()) {
		return
	}
	b.WriteByte('(')
	b.WriteString(n.Type())
	count := int(n.NamedChildCount())
	if count == 0 {
		b.WriteByte(':')
		b.WriteString(n.Content(src))
	}
	for i := 0; i < count; i++ {
		writeSignature(b, n.NamedChild(i), src, lang)
	}
	b.WriteByte(')')
}

// Fingerprint hashes a tree's structural signature. Two files with the same
// fingerprint are structurally identical even if their formatting differs.
func Fingerprint(root *sitter.Node, src []byte, lang Language) string {
	sum := sha256.Sum256([]byte(StructuralSignature(root, src, lang)))
	return hex.EncodeToString(sum[:])
}
