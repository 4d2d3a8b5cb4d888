package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeanvil/anvil/internal/config"
	"github.com/codeanvil/anvil/internal/persist"
	"github.com/codeanvil/anvil/internal/ui"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the local durable store",
	Long: `Inspect the local SQLite durable store.

When no remote file service is configured, flushed workspace files land in
a local SQLite database. These commands show what has been persisted.`,
}

func openConfiguredStore() (*persist.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.PersistURL != "" {
		return nil, fmt.Errorf("a remote file service is configured (%s); there is no local store to inspect", cfg.PersistURL)
	}
	return persist.OpenSQLite(cfg.StorePath)
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show durable store status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		info, err := os.Stat(cfg.StorePath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Durable store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   It is created on the first flush after 'anvild serve'\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, err := openConfiguredStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		count, err := store.FileCount(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading store: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Durable Store Status\n\n", ui.RenderAccent("📦"))
		fmt.Printf("   Path:  %s\n", cfg.StorePath)
		fmt.Printf("   Size:  %d bytes\n", info.Size())
		fmt.Printf("   Files: %d\n\n", count)
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List persisted files for a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openConfiguredStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		files, err := store.ListProject(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing project: %v\n", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Printf("%s No persisted files for %s\n", ui.RenderWarn("⚠"), args[0])
			return
		}

		fmt.Printf("%s %d persisted file(s) for %s\n\n", ui.RenderPass("✓"), len(files), args[0])
		for _, f := range files {
			fmt.Printf("   %s %s\n", f.Path,
				ui.RenderDim(fmt.Sprintf("(%d bytes, %s)", len(f.Content), f.UpdatedAt.Format(time.RFC3339))))
		}
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get <project-id> <path>",
	Short: "Print the persisted content of a file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openConfiguredStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		file, err := store.Get(context.Background(), args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(file.Content)
	},
}

func init() {
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeGetCmd)
	rootCmd.AddCommand(storeCmd)
}
