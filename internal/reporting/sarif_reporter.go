// File: internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "Chisel CLI"
	ToolInfoURI  = "https://github.com/xkilldash9x/chisel-cli"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// SARIFReporter renders the run report as a SARIF 2.1.0 log. Each resolution
// becomes one result; the accepted unified diff and the attempt count travel
// in the result's property bag.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// ruleIndex maps a rule id to its position in the driver's rule list.
	ruleIndex map[string]int
}

func newSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:    writer,
		logger:    logger.Named("sarif_reporter"),
		log:       log,
		ruleIndex: make(map[string]int),
	}
}

// Write converts every resolution into a SARIF result. Report resolutions
// are already deterministically ordered, so the SARIF output is too.
func (r *SARIFReporter) Write(report *Report) error {
	run := r.log.Runs[0]

	for _, res := range report.Resolutions {
		inc := res.Incident
		r.ensureRule(inc)

		props := sarif.PropertyBag{
			"status":   string(res.Status),
			"attempts": len(res.Attempts),
		}
		if res.Patch != nil {
			props["diff"] = res.Patch.UnifiedDiff
		}
		if res.FailureReason != "" {
			props["reason"] = res.FailureReason
		}

		message := inc.Message
		if message == "" {
			message = inc.RuleID
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:  inc.RuleID,
			Message: &sarif.Message{Text: pString(message)},
			Level:   levelFor(res),
			Locations: []*sarif.Location{
				{
					PhysicalLocation: &sarif.PhysicalLocation{
						ArtifactLocation: &sarif.ArtifactLocation{URI: pString(inc.FilePath)},
						Region:           &sarif.Region{StartLine: inc.StartLine, EndLine: inc.EndLine},
					},
				},
			},
			Properties: &props,
		})
	}

	r.logger.Debug("Buffered SARIF results",
		zap.Int("results", len(run.Results)),
		zap.String("run_id", report.RunID))
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	raw, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		raw = append(raw, '\n')
		_, encodeErr = r.writer.Write(raw)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// ensureRule registers the incident's rule once in the driver's rule list.
func (r *SARIFReporter) ensureRule(inc *schemas.Incident) {
	if _, exists := r.ruleIndex[inc.RuleID]; exists {
		return
	}
	driver := r.log.Runs[0].Tool.Driver
	r.ruleIndex[inc.RuleID] = len(driver.Rules)
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               inc.RuleID,
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(inc.Message)},
	})
}

// levelFor maps a resolution outcome onto a SARIF level: anything still
// broken keeps the analyzer's urgency, a solved incident is a note.
func levelFor(res *schemas.Resolution) sarif.Level {
	if res.Status == schemas.StatusSolved {
		return sarif.LevelNote
	}
	if res.Incident.Severity == schemas.SeverityMandatory {
		return sarif.LevelError
	}
	return sarif.LevelWarning
}

func pString(s string) *string { return &s }
