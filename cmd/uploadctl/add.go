package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltrail/upload-engine/internal/model"
	"github.com/voltrail/upload-engine/internal/watcher"
)

func newAddCommand() *cobra.Command {
	var priority string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "add <source-file>",
		Short: "Admit a file for upload by dropping an admission descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(source); err != nil {
				return fmt.Errorf("uploadctl: source not found: %w", err)
			}

			desc := watcher.Descriptor{
				Source:   source,
				Name:     filepath.Base(source),
				MimeType: mimeType,
				Priority: parsePriority(priority),
			}
			raw, err := json.MarshalIndent(desc, "", "  ")
			if err != nil {
				return err
			}

			name := fmt.Sprintf("%s-%d.upload.json", filepath.Base(source), time.Now().UnixNano())
			out := filepath.Join(cfg.DropDir, name)
			if err := os.MkdirAll(cfg.DropDir, 0o755); err != nil {
				return fmt.Errorf("uploadctl: create dropDir: %w", err)
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("uploadctl: write descriptor: %w", err)
			}
			fmt.Printf("admitted %s (priority=%s)\n", source, priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "normal", "low|normal|high|critical")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type override")
	return cmd
}

func parsePriority(s string) model.Priority {
	switch s {
	case "low":
		return model.PriorityLow
	case "high":
		return model.PriorityHigh
	case "critical":
		return model.PriorityCritical
	default:
		return model.PriorityNormal
	}
}
