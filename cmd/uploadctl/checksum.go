package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltrail/upload-engine/internal/chunker"
)

func newChecksumCommand() *cobra.Command {
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "checksum <file>",
		Short: "Print the per-chunk SHA-256 checksums a local file would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := chunker.New()
			chunks, err := ch.ChunkFile(context.Background(), args[0], chunkSize)
			if err != nil {
				return fmt.Errorf("uploadctl: chunk file: %w", err)
			}
			for c := range chunks {
				fmt.Printf("chunk %04d  %d bytes  %s\n", c.Index, len(c.Data), c.Checksum)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 5<<20, "chunk size in bytes")
	return cmd
}
