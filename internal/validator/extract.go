// File: internal/validator/extract.go
package validator

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex pulls a JSON object out of a fenced markdown block, which
// models frequently wrap around their answers despite instructions.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// codeBlockRegex matches a bare fenced code block as a last-resort payload.
var codeBlockRegex = regexp.MustCompile("(?s)```(?:[a-zA-Z]*)?\\s*\\n(.*?)```")

// proposal is the JSON contract the prompt templates ask for.
type proposal struct {
	UpdatedCode string `json:"updated_code"`
	Reasoning   string `json:"reasoning"`
}

// ExtractCandidate parses a raw model completion into a candidate patch.
// It tries, in order: the whole text as JSON, a fenced JSON block, the
// first-to-last brace span, and finally a fenced code block taken verbatim
// as the replacement.
func ExtractCandidate(key schemas.IncidentKey, targetFile, raw string) (*schemas.CandidatePatch, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &schemas.PatchRejectedError{Reason: schemas.ReasonEmptyContent, Detail: "model returned an empty completion"}
	}

	if p, ok := tryDecode(trimmed); ok {
		return candidateFrom(key, targetFile, p)
	}
	if m := jsonBlockRegex.FindStringSubmatch(trimmed); m != nil {
		if p, ok := tryDecode(m[1]); ok {
			return candidateFrom(key, targetFile, p)
		}
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		if p, ok := tryDecode(trimmed[start : end+1]); ok {
			return candidateFrom(key, targetFile, p)
		}
	}
	if m := codeBlockRegex.FindStringSubmatch(trimmed); m != nil && strings.TrimSpace(m[1]) != "" {
		return &schemas.CandidatePatch{
			IncidentKey: key,
			TargetFile:  targetFile,
			Replacement: strings.TrimRight(m[1], "\n"),
		}, nil
	}

	return nil, &schemas.PatchRejectedError{
		Reason: schemas.ReasonUnparsable,
		Detail: "completion contained neither a JSON proposal nor a code block",
	}
}

func tryDecode(s string) (proposal, bool) {
	var p proposal
	if err := json.UnmarshalFromString(s, &p); err != nil {
		return proposal{}, false
	}
	return p, p.UpdatedCode != ""
}

func candidateFrom(key schemas.IncidentKey, targetFile string, p proposal) (*schemas.CandidatePatch, error) {
	if strings.TrimSpace(p.UpdatedCode) == "" {
		return nil, &schemas.PatchRejectedError{Reason: schemas.ReasonEmptyContent, Detail: "proposal had an empty updated_code field"}
	}
	return &schemas.CandidatePatch{
		IncidentKey: key,
		TargetFile:  targetFile,
		Replacement: p.UpdatedCode,
		Reasoning:   p.Reasoning,
	}, nil
}
