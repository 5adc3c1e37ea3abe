// Command mapping-worker runs the Worker pool (C9, §4.9): it drains
// RequestQueue, claims each job, and hands it to the Orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ctrlmap/mapper/internal/app"
	"github.com/ctrlmap/mapper/internal/common"
)

func main() {
	configPath := os.Getenv("CTRLMAP_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	a.Worker.Start(context.Background())

	a.Logger.Info().
		Int("concurrency", a.Config.Pipeline.WorkerConcurrency).
		Msg("mapping-worker ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")

	a.Close()
	common.PrintShutdownBanner(a.Logger)
}
