package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voltrail/upload-engine/internal/queue"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted queue snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.PersistQueue {
				return fmt.Errorf("uploadctl: queue persistence is disabled (PERSIST_QUEUE=false)")
			}
			items, err := queue.LoadSnapshot(cfg.PersistKey)
			if err != nil {
				return fmt.Errorf("uploadctl: load snapshot: %w", err)
			}
			if len(items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tPRIORITY\tRETRIES\tSIZE")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%d\t%d\t%d\n", it.ID, it.Status, it.Progress, it.Priority, it.RetryCount, it.FileSize)
			}
			return tw.Flush()
		},
	}
}
