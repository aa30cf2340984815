// File: api/schemas/incident.go
package schemas

import (
	"fmt"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Severity buckets an incident by how urgently it needs remediation.
type Severity string

const (
	SeverityMandatory Severity = "mandatory"
	SeverityOptional  Severity = "optional"
	SeverityPotential Severity = "potential"
)

// Incident is a single static-analysis finding anchored to a source span.
// Line numbers are 1-based and inclusive on both ends.
type Incident struct {
	ID        string   `json:"id"`
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	RuleID    string   `json:"rule_id"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity,omitempty"`
}

// IncidentKey identifies an incident for dedupe and resolution tracking.
// Two findings at the same location for the same rule are the same incident.
type IncidentKey struct {
	FilePath  string `json:"file_path"`
	RuleID    string `json:"rule_id"`
	StartLine int    `json:"start_line"`
}

func (k IncidentKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.FilePath, k.StartLine, k.RuleID)
}

// Key returns the identity triple used for ordering and deduplication.
func (i *Incident) Key() IncidentKey {
	return IncidentKey{FilePath: i.FilePath, RuleID: i.RuleID, StartLine: i.StartLine}
}

// NewIncident validates raw finding fields and returns a well-formed
// incident, or a MalformedIncidentError naming the first violated rule.
func NewIncident(id, filePath, ruleID, message string, startLine, endLine int, sev Severity) (*Incident, error) {
	switch {
	case strings.TrimSpace(filePath) == "":
		return nil, &MalformedIncidentError{Reason: "file path is empty"}
	case strings.TrimSpace(ruleID) == "":
		return nil, &MalformedIncidentError{Reason: "rule id is empty"}
	case startLine < 1:
		return nil, &MalformedIncidentError{Reason: fmt.Sprintf("start line %d is not positive", startLine)}
	case endLine < startLine:
		return nil, &MalformedIncidentError{Reason: fmt.Sprintf("end line %d precedes start line %d", endLine, startLine)}
	}
	if id == "" {
		id = IncidentKey{FilePath: filePath, RuleID: ruleID, StartLine: startLine}.String()
	}
	if sev == "" {
		sev = SeverityPotential
	}
	return &Incident{
		ID:        id,
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   endLine,
		RuleID:    ruleID,
		Message:   message,
		Severity:  sev,
	}, nil
}

// SortIncidents orders incidents deterministically: file path, then start
// line, then rule id. The orchestrator's output ordering depends on this.
func SortIncidents(incidents []*Incident) {
	sort.SliceStable(incidents, func(a, b int) bool {
		ia, ib := incidents[a], incidents[b]
		if ia.FilePath != ib.FilePath {
			return ia.FilePath < ib.FilePath
		}
		if ia.StartLine != ib.StartLine {
			return ia.StartLine < ib.StartLine
		}
		return ia.RuleID < ib.RuleID
	})
}

// DedupeIncidents drops later duplicates of the same (file, rule, line)
// identity, preserving first-seen order. Each dropped duplicate is reported
// as a MalformedIncidentError since identity keys must be unique in a run.
func DedupeIncidents(incidents []*Incident) ([]*Incident, []error) {
	seen := make(map[IncidentKey]struct{}, len(incidents))
	out := incidents[:0]
	var dups []error
	for _, inc := range incidents {
		k := inc.Key()
		if _, dup := seen[k]; dup {
			dups = append(dups, &MalformedIncidentError{Reason: fmt.Sprintf("duplicate incident key %s", k)})
			continue
		}
		seen[k] = struct{}{}
		out = append(out, inc)
	}
	return out, dups
}

// analyzerReport mirrors the ruleset-oriented JSON emitted by the static
// analyzer: a list of rulesets, each holding violations keyed by rule id,
// each violation holding raw incident spans.
type analyzerReport []struct {
	Name       string `json:"name"`
	Violations map[string]struct {
		Description string `json:"description"`
		Category    string `json:"category"`
		Incidents   []struct {
			URI        string `json:"uri"`
			Message    string `json:"message"`
			LineNumber int    `json:"lineNumber"`
		} `json:"incidents"`
	} `json:"violations"`
}

// ParseAnalyzerReport loads an analyzer output file and flattens it into
// validated, deduplicated, deterministically ordered incidents. Malformed
// entries are collected rather than aborting the whole report.
func ParseAnalyzerReport(path string) ([]*Incident, []error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading analyzer report: %w", err)
	}
	var report analyzerReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, nil, fmt.Errorf("decoding analyzer report %q: %w", path, err)
	}

	var incidents []*Incident
	var malformed []error
	for _, ruleset := range report {
		for ruleID, violation := range ruleset.Violations {
			sev := Severity(violation.Category)
			for _, raw := range violation.Incidents {
				filePath := strings.TrimPrefix(raw.URI, "file://")
				inc, err := NewIncident("", filePath, ruleID, raw.Message, raw.LineNumber, raw.LineNumber, sev)
				if err != nil {
					malformed = append(malformed, err)
					continue
				}
				incidents = append(incidents, inc)
			}
		}
	}
	SortIncidents(incidents)
	deduped, dups := DedupeIncidents(incidents)
	malformed = append(malformed, dups...)
	return deduped, malformed, nil
}
