// File: cmd/replay.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReplayCmd creates the `replay` command: the run pipeline with every
// backend offline, answered purely from the cache snapshot or the database.
// Incidents whose prompts miss the cache fail instead of calling a model,
// which makes replays deterministic and free.
func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-runs a remediation from cached model responses, offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd)
			if cfg.Cache().SnapshotPath == "" && cfg.Database().URL == "" {
				return fmt.Errorf("replay needs a cache source: set --snapshot or database.url")
			}
			// Replay always preloads; there is no other response source.
			cfg.CacheCfg.Preload = true
			return executeRun(cmd, true)
		},
	}
	addRunFlags(replayCmd)
	return replayCmd
}
