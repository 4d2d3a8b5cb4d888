package loadtest

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/codeanvil/anvil/internal/gateway"
	"github.com/codeanvil/anvil/internal/persist"
	"github.com/codeanvil/anvil/internal/room"
	"github.com/codeanvil/anvil/internal/workspace"
)

type nullStore struct{}

func (nullStore) Persist(ctx context.Context, projectID, path, content string, event persist.Event) error {
	return nil
}

func startGateway(t *testing.T) *gateway.Server {
	t.Helper()

	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New() failed: %v", err)
	}
	logger := log.New(os.Stderr, "[test] ", log.LstdFlags)
	manager := room.NewManager(ws, persist.NewBridge(nullStore{}, time.Hour, logger), logger)

	srv := gateway.NewServer(manager, &gateway.Config{Port: 0, Logger: logger})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	time.Sleep(100 * time.Millisecond)
	return srv
}

func TestRunSmallLoad(t *testing.T) {
	srv := startGateway(t)

	stats, err := Run(Options{
		URL:              "ws://" + srv.GetAddr() + "/ws",
		ProjectID:        "load-p1",
		Editors:          4,
		ChangesPerEditor: 5,
		Timeout:          30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if stats.TotalChanges != 20 {
		t.Errorf("TotalChanges = %d, want 20", stats.TotalChanges)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.Min <= 0 || stats.Max < stats.Min || stats.P50 > stats.P99 {
		t.Errorf("inconsistent stats: %+v", stats)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	if _, err := Run(Options{Editors: 0, ChangesPerEditor: 1}); err == nil {
		t.Error("expected error for zero editors")
	}
	if _, err := Run(Options{Editors: 1, ChangesPerEditor: 0}); err == nil {
		t.Error("expected error for zero changes")
	}
}
