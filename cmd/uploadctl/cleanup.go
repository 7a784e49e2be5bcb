package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltrail/upload-engine/internal/blockstore"
	"github.com/voltrail/upload-engine/internal/logger"
)

func newCleanupCommand() *cobra.Command {
	var expiration time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale chunks and metadata from the block store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			log := logger.New(cfg.LogLevel)

			store, err := blockstore.Open(blockstore.Options{Path: cfg.BlockStorePath, Logger: log})
			if err != nil {
				return fmt.Errorf("uploadctl: open block store: %w", err)
			}
			defer store.Close()

			if err := store.Cleanup(context.Background(), expiration); err != nil {
				return fmt.Errorf("uploadctl: cleanup: %w", err)
			}
			stats := store.Stats()
			fmt.Printf("cleanup complete: %d bytes, %d chunks remaining\n", stats.TotalBytes, stats.ChunkCount)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiration, "older-than", 24*time.Hour, "expire file state older than this duration")
	return cmd
}
