package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeanvil/anvil/internal/loadtest"
	"github.com/codeanvil/anvil/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Load test a running daemon",
	Long: `Drive concurrent editor sessions against a running anvild instance.

Each simulated editor joins the same room and sends a stream of file
changes, measuring the latency between a change and its ack.

Example usage:
  anvild loadtest                                  # 10 editors, 50 changes each
  anvild loadtest --editors 50 --changes 100
  anvild loadtest --url ws://staging:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")
		editors, _ := cmd.Flags().GetInt("editors")
		changes, _ := cmd.Flags().GetInt("changes")
		project, _ := cmd.Flags().GetString("project")

		fmt.Printf("%s Running load test: %d editors x %d changes against %s\n",
			ui.RenderAccent("🚀"), editors, changes, url)
		start := time.Now()

		stats, err := loadtest.Run(loadtest.Options{
			URL:              url,
			ProjectID:        project,
			Editors:          editors,
			ChangesPerEditor: changes,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load test failed: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start)
		fmt.Printf("%s Load test complete in %v\n\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		stats.PrintStats()

		if stats.Errors > 0 {
			fmt.Printf("\n%s %d editor session(s) failed\n", ui.RenderWarn("⚠"), stats.Errors)
			os.Exit(1)
		}
	},
}

func init() {
	loadtestCmd.Flags().String("url", "ws://localhost:8080/ws", "Gateway WebSocket endpoint")
	loadtestCmd.Flags().Int("editors", 10, "Concurrent editor sessions")
	loadtestCmd.Flags().Int("changes", 50, "File changes per editor")
	loadtestCmd.Flags().String("project", "loadtest", "Room to join")
	rootCmd.AddCommand(loadtestCmd)
}
