// File: internal/promptgen/templates.go
package promptgen

// Template sets are versioned so that a cached response can always be traced
// back to the exact prompt text that produced it. Adding a version must
// never change an existing one.

type templateSet struct {
	system string
	user   string
}

var templateVersions = map[string]templateSet{
	"v1": {
		system: systemV1,
		user:   userV1,
	},
}

const systemV1 = `You are a senior software engineer performing a source code migration.
You fix exactly one static-analysis incident at a time. You only change what
the incident requires; you never reformat, rename, or reorder unrelated code.
Respond with a single JSON object and nothing else:
{"updated_code": "<the full replacement for the provided code slice>", "reasoning": "<one short paragraph>"}`

const userV1 = `Fix the following incident.

Rule: {{.RuleID}}
Message: {{.Message}}
File: {{.FilePath}} (lines {{.StartLine}}-{{.EndLine}}, {{.Language}})
{{- if .EnclosingSymbol}}
Enclosing declaration: {{.EnclosingKind}} {{.EnclosingSymbol}}
{{- end}}
{{- if .Imports}}

Imports in scope:
{{- range .Imports}}
{{.}}
{{- end}}
{{- end}}

Code slice (replace this entire slice in your answer):
` + "```{{.Language}}\n{{.CodeSlice}}\n```" + `
{{- if .History}}

Previous attempts were rejected. Do not repeat these mistakes:
{{- range .History}}
Attempt {{.Number}}: {{.Rejection}}
{{- end}}
{{- end}}`
