// File: cmd/chisel/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/chisel-cli/cmd"
	"github.com/xkilldash9x/chisel-cli/internal/observability"
)

// main is the entry point of the application.
func main() {
	// Listen for interrupt signals so a Ctrl+C aborts in-flight model calls
	// and the run report still records the skipped incidents.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
