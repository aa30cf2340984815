// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/observability"
	"github.com/xkilldash9x/chisel-cli/internal/reporting"
)

// newRunCmd creates and configures the `run` command, the main remediation
// flow: analyzer report in, validated patches and a run report out.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Remediates every incident in an analyzer report",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd)
			return executeRun(cmd, false)
		},
	}
	addRunFlags(runCmd)
	return runCmd
}

// addRunFlags registers the flags shared by run and replay.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("report", "r", "", "Path to the analyzer report JSON. (Overrides config/env)")
	cmd.Flags().StringP("project-root", "p", "", "Root directory the report's file paths are relative to. (Overrides config/env)")
	cmd.Flags().StringP("output", "o", "", "Output file path for the run report; stdout when unset.")
	cmd.Flags().StringP("format", "f", "", "Run report format ('json' or 'sarif').")
	cmd.Flags().String("snapshot", "", "Path of the response cache snapshot file. (Overrides config/env)")
	cmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent workers. (Overrides config/env)")
	cmd.Flags().Int("retries", -1, "Rejected-patch retries per incident. (Overrides config/env)")
}

// applyRunFlags copies changed flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("report") {
		v, _ := flags.GetString("report")
		cfg.SetAnalysisReportPath(v)
	}
	if flags.Changed("project-root") {
		v, _ := flags.GetString("project-root")
		cfg.SetAnalysisProjectRoot(v)
	}
	if flags.Changed("output") {
		v, _ := flags.GetString("output")
		cfg.SetReportOutputPath(v)
	}
	if flags.Changed("format") {
		v, _ := flags.GetString("format")
		cfg.ReportCfg.Format = v
	}
	if flags.Changed("snapshot") {
		v, _ := flags.GetString("snapshot")
		cfg.SetCacheSnapshotPath(v)
	}
	if flags.Changed("concurrency") {
		v, _ := flags.GetInt("concurrency")
		cfg.SetEngineWorkerConcurrency(v)
	}
	if flags.Changed("retries") {
		v, _ := flags.GetInt("retries")
		if v >= 0 {
			cfg.SetEngineMaxRetries(v)
		}
	}
}

// executeRun drives one remediation run end to end.
func executeRun(cmd *cobra.Command, offline bool) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	reportPath := cfg.Analysis().ReportPath
	if reportPath == "" {
		return fmt.Errorf("no analyzer report configured (use --report or analysis.report_path)")
	}

	incidents, malformed, err := schemas.ParseAnalyzerReport(reportPath)
	if err != nil {
		return err
	}
	for _, m := range malformed {
		logger.Warn("Dropped malformed incident", zap.Error(m))
	}
	logger.Info("Loaded analyzer report",
		zap.String("path", reportPath),
		zap.Int("incidents", len(incidents)),
		zap.Int("malformed", len(malformed)))

	components, err := initializeEngine(ctx, cfg, logger, offline)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer components.Shutdown()

	startedAt := time.Now()
	resolutions, runErr := components.Orchestrator.Run(ctx, incidents)
	finishedAt := time.Now()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Run aborted", zap.Error(runErr))
	}

	report := reporting.NewReport(resolutions, startedAt, finishedAt)
	if err := emitReport(report); err != nil {
		return err
	}
	if err := persistRun(cmd, components, report); err != nil {
		return err
	}

	logger.Info("Run finished", zap.String("summary", report.Summary()))
	if runErr != nil {
		return runErr
	}
	if report.Totals.Failed > 0 {
		return fmt.Errorf("%d incident(s) could not be remediated", report.Totals.Failed)
	}
	return nil
}

// emitReport writes the run report in the configured format.
func emitReport(report *reporting.Report) error {
	reporter, err := reporting.New(cfg.Report().Format, cfg.Report().OutputPath, Version, observability.GetLogger())
	if err != nil {
		return err
	}
	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("writing run report: %w", err)
	}
	return reporter.Close()
}

// persistRun saves the snapshot file and, when a store is configured, the
// resolutions and cache rows.
func persistRun(cmd *cobra.Command, components *engineComponents, report *reporting.Report) error {
	logger := observability.GetLogger()

	if path := cfg.Cache().SnapshotPath; path != "" {
		if err := components.Cache.SaveSnapshot(path); err != nil {
			return err
		}
	}

	if components.Store == nil {
		return nil
	}
	ctx := cmd.Context()
	if err := components.Store.PersistRun(ctx, report.RunID, report.Resolutions); err != nil {
		return err
	}
	if err := components.Store.SaveResponses(ctx, components.Cache.Entries()); err != nil {
		return err
	}
	logger.Info("Run persisted to database", zap.String("run_id", report.RunID))
	return nil
}
