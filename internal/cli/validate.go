package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config and catalog without running anything",
		Run:   runValidate,
	}

	RootCmd.AddCommand(cmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("config", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		exitErr("catalog", err)
	}

	fmt.Printf("config ok (seed %d, db %s)\n", cfg.Seed, cfg.DBPath)
	fmt.Printf("catalog ok (%d npcs, %d places, %d event types, %d scripted events)\n",
		len(cat.NPCs), len(cat.Places), len(cat.EventTypes), len(cat.Day1Events))
}
