// File: internal/reporting/report.go

// Package reporting assembles the persisted run report: every incident, its
// terminal status, the accepted diff and the full attempt history, in a
// deterministic order.
package reporting

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Totals counts resolutions per terminal status.
type Totals struct {
	Total   int `json:"total"`
	Solved  int `json:"solved"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Report is the complete record of one remediation run. Resolutions are
// ordered by (file path, start line, rule id) so two runs over the same
// inputs produce byte-identical reports apart from timestamps and run id.
type Report struct {
	RunID       string                `json:"run_id"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Totals      Totals                `json:"totals"`
	Resolutions []*schemas.Resolution `json:"resolutions"`
}

// NewReport builds a report over the given resolutions. The input slice is not
// mutated; the report holds its own sorted copy.
func NewReport(resolutions []*schemas.Resolution, startedAt, finishedAt time.Time) *Report {
	sorted := make([]*schemas.Resolution, len(resolutions))
	copy(sorted, resolutions)
	sort.SliceStable(sorted, func(a, b int) bool {
		ka, kb := sorted[a].Incident.Key(), sorted[b].Incident.Key()
		if ka.FilePath != kb.FilePath {
			return ka.FilePath < kb.FilePath
		}
		if ka.StartLine != kb.StartLine {
			return ka.StartLine < kb.StartLine
		}
		return ka.RuleID < kb.RuleID
	})

	totals := Totals{Total: len(sorted)}
	for _, res := range sorted {
		switch res.Status {
		case schemas.StatusSolved:
			totals.Solved++
		case schemas.StatusFailed:
			totals.Failed++
		case schemas.StatusSkipped:
			totals.Skipped++
		}
	}

	return &Report{
		RunID:       uuid.NewString(),
		StartedAt:   startedAt.UTC(),
		FinishedAt:  finishedAt.UTC(),
		Totals:      totals,
		Resolutions: sorted,
	}
}

// WriteJSON serializes the report with indentation and a trailing newline.
func (r *Report) WriteJSON(w io.Writer) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Summary renders the one-line human synopsis used for the final log entry.
func (r *Report) Summary() string {
	return fmt.Sprintf("run %s: %d incidents, %d solved, %d failed, %d skipped",
		r.RunID, r.Totals.Total, r.Totals.Solved, r.Totals.Failed, r.Totals.Skipped)
}
