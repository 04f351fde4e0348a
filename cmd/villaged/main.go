// Command villaged runs the deterministic village simulation.
package main

import (
	"log/slog"
	"os"

	"github.com/jpkarvonen/villaged/internal/cli"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
