package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeanvil/anvil/internal/config"
	"github.com/codeanvil/anvil/internal/gateway"
	"github.com/codeanvil/anvil/internal/lifecycle"
	"github.com/codeanvil/anvil/internal/logging"
	"github.com/codeanvil/anvil/internal/persist"
	"github.com/codeanvil/anvil/internal/room"
	"github.com/codeanvil/anvil/internal/watcher"
	"github.com/codeanvil/anvil/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the synchronization daemon",
	Long: `Start the workspace synchronization daemon.

The daemon serves a WebSocket endpoint for editor connections, watches the
workspace tree for out-of-band changes (package installs, shell commands),
debounces durable-store writes behind a quiet period, and reports idle
projects to the project-management service.

Endpoints:
  ws://localhost:<port>/ws       Editor connections
  http://localhost:<port>/health Health and room counts

Example usage:
  anvild serve                       # Defaults (port 8080, ./workspace)
  anvild serve --port 9000
  anvild serve --config anvil.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.ListenPort, _ = cmd.Flags().GetInt("port")
		}

		sink := logging.NewSink(logging.Options{
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		})
		defer sink.Close()

		ws, err := workspace.New(cfg.WorkspaceRoot)
		if err != nil {
			return fmt.Errorf("failed to open workspace: %w", err)
		}

		// Durable store: remote file service when configured, local SQLite
		// otherwise.
		var store persist.Store
		if cfg.PersistURL != "" {
			store = persist.NewHTTPStore(cfg.PersistURL, nil)
		} else {
			local, err := persist.OpenSQLite(cfg.StorePath)
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			defer local.Close()
			store = local
		}

		bridge := persist.NewBridge(store, cfg.QuietPeriod, sink.Logger("persist"))
		manager := room.NewManager(ws, bridge, sink.Logger("room"))

		rules := watcher.DefaultRules()
		if cfg.RulesFile != "" {
			rules, err = watcher.LoadRules(cfg.RulesFile)
			if err != nil {
				return fmt.Errorf("failed to load watch rules: %w", err)
			}
		}
		fw, err := watcher.New(ws.Root(), rules, &watcher.Config{
			FastDebounce:   cfg.FastDebounce,
			BulkDebounce:   cfg.BulkDebounce,
			StabilizeDelay: cfg.StabilizeDelay,
			Logger:         sink.Logger("watcher"),
		})
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := fw.Start(); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer fw.Stop()

		// Watcher notifications feed room reconciliation: the first path
		// segment under the workspace root is the project, and any active
		// room for it realigns with disk.
		go reconcileLoop(fw, manager, sink)

		srv := gateway.NewServer(manager, &gateway.Config{
			Port:   cfg.ListenPort,
			Logger: sink.Logger("gateway"),
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start gateway: %w", err)
		}

		var monitor *lifecycle.IdleMonitor
		if cfg.ProjectServiceURL != "" {
			notifier := lifecycle.NewNotifier(cfg.ProjectServiceURL, nil, sink.Logger("lifecycle"))
			monitor = lifecycle.NewIdleMonitor(manager, notifier,
				cfg.IdleThreshold, cfg.IdleScanInterval, sink.Logger("lifecycle"))
			monitor.Start()
		}

		fmt.Printf("anvild started on http://localhost:%d\n", cfg.ListenPort)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", cfg.ListenPort)
		fmt.Printf("Workspace root: %s\n", ws.Root())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if monitor != nil {
			monitor.Stop()
		}
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}

		fmt.Println("anvild stopped")
		return nil
	},
}

// reconcileLoop drains watcher notifications and resyncs the affected
// rooms. Paths are relative to the workspace root, so the project is the
// leading segment; a project without an active room is skipped.
func reconcileLoop(fw *watcher.Watcher, manager *room.Manager, sink *logging.Sink) {
	logger := sink.Logger("reconcile")
	active := func() map[string]bool {
		set := make(map[string]bool)
		for _, p := range manager.ActiveProjects() {
			set[p] = true
		}
		return set
	}

	for {
		select {
		case n, ok := <-fw.Events():
			if !ok {
				return
			}
			rooms := active()
			seen := make(map[string]bool)
			for _, p := range n.Paths {
				projectID, _, found := strings.Cut(p, "/")
				if !found {
					projectID = p
				}
				if seen[projectID] || !rooms[projectID] {
					continue
				}
				seen[projectID] = true
				logger.Printf("Reconciling %s (%s tier, %d paths)", projectID, n.Tier, len(n.Paths))
				if err := manager.Resync(projectID); err != nil {
					logger.Printf("Failed to resync %s: %v", projectID, err)
				}
			}
		case err, ok := <-fw.Errors():
			if !ok {
				return
			}
			logger.Printf("Watcher error: %v", err)
		}
	}
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}
