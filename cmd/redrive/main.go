// Command redrive drains the dead-letter queue back onto the main request
// queue (C12, §4.12). Run with -dry-run to report DLQ depth without
// mutating any message.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ctrlmap/mapper/internal/app"
	"github.com/ctrlmap/mapper/internal/redrive"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report DLQ depth without redriving any message")
	maxMessages := flag.Int("max", redrive.MaxMessages, "maximum number of messages to redrive")
	flag.Parse()

	configPath := os.Getenv("CTRLMAP_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	report, err := a.Redrive.Run(context.Background(), redrive.Request{
		DryRun:      *dryRun,
		MaxMessages: *maxMessages,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("redrive failed")
		fmt.Fprintf(os.Stderr, "redrive failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s (DLQ depth before: %d)\n", report.Message, report.DLQMessageCountBefore)
}
