// File: api/schemas/context.go
package schemas

// ContextWindow is the AST-derived slice of a source file handed to the
// prompt renderer. The slice always covers at least the incident span, and
// when the language parser can find one, the smallest enclosing declaration.
type ContextWindow struct {
	IncidentKey IncidentKey `json:"incident_key"`
	FilePath    string      `json:"file_path"`

	// CodeSlice is the verbatim source text of the window, byte-for-byte as
	// it appears on disk.
	CodeSlice string `json:"code_slice"`

	// StartLine and EndLine are the 1-based inclusive line bounds of the
	// slice within the file.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// StartByte and EndByte bound the slice within the file's byte stream;
	// the validator splices replacements using these offsets.
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`

	// EnclosingSymbol names the declaration the slice belongs to (method,
	// class, function). Empty when the window fell back to a line radius.
	EnclosingSymbol string `json:"enclosing_symbol,omitempty"`
	EnclosingKind   string `json:"enclosing_kind,omitempty"`

	// ImportsInScope lists the file's import statements verbatim so the
	// model can reference symbols without seeing the whole file.
	ImportsInScope []string `json:"imports_in_scope,omitempty"`

	// ASTFingerprint is a structural hash of the whole file at build time.
	// A window whose fingerprint no longer matches the file is stale.
	ASTFingerprint string `json:"ast_fingerprint"`

	Language string `json:"language"`
}
