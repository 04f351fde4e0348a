package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/jpkarvonen/villaged/internal/store"
)

var exportOut string

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the event log as gzipped JSONL",
		Run:   runExport,
	}
	cmd.Flags().StringVarP(&exportOut, "out", "o", "events.jsonl.gz", "Output file path")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	f, err := os.Create(exportOut)
	if err != nil {
		exitErr("create output", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)

	// Page through the log in insertion order so the archive replays the
	// same way the village lived it.
	var cursor int64
	total := 0
	for {
		events, last, err := st.EventsAfter(cursor, 1000)
		if err != nil {
			exitErr("read events", err)
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				exitErr("write event", err)
			}
		}
		total += len(events)
		cursor = last
	}

	if err := gz.Close(); err != nil {
		exitErr("finish archive", err)
	}
	fmt.Printf("exported %d events to %s\n", total, exportOut)
}
