package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "anvild",
	Short: "Real-time workspace synchronization daemon",
	Long: `anvild keeps a cloud workspace in sync between collaborating editors.

It runs the synchronization core for browser-based IDE sessions: editors
connect over WebSocket, join a per-project room, and exchange file changes,
presence, and file-tree operations. Changed files are written to the
workspace immediately and flushed to durable storage after a quiet period.

Example usage:
  anvild serve                    # Start with defaults
  anvild serve --config anvil.yaml
  anvild store status             # Inspect the local durable store`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the anvild version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("anvild %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: anvil.yaml in . or $HOME)")
	rootCmd.AddCommand(versionCmd)
}
