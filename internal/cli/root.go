// Package cli implements the villaged CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "villaged",
	Short: "Deterministic village simulation daemon",
	Long:  "A small village of NPCs living on a deterministic clock. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: built-in defaults)")
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		if env := os.Getenv("VILLAGED_CONFIG"); env != "" {
			return config.Load(env)
		}
	}
	return config.Load(configPath)
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	return catalog.Load(cfg.CatalogPath)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
