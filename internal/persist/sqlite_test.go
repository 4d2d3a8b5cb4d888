package persist

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, "p1", "main.go", "package main", EventCreated); err != nil {
		t.Fatalf("Persist(created) failed: %v", err)
	}

	f, err := store.Get(ctx, "p1", "main.go")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if f.Content != "package main" || f.Event != EventCreated {
		t.Errorf("unexpected stored file: %+v", f)
	}
}

// TestSQLiteStoreOverwrite verifies the overwrite-not-merge contract.
func TestSQLiteStoreOverwrite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, "p1", "a.js", "v1", EventCreated); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	if err := store.Persist(ctx, "p1", "a.js", "v2", EventModified); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	f, err := store.Get(ctx, "p1", "a.js")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if f.Content != "v2" || f.Event != EventModified {
		t.Errorf("expected overwritten content v2, got %+v", f)
	}

	n, err := store.FileCount(ctx)
	if err != nil {
		t.Fatalf("FileCount() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after overwrite, got %d", n)
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, "p1", "a.js", "v1", EventModified); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	if err := store.Persist(ctx, "p1", "a.js", "", EventDeleted); err != nil {
		t.Fatalf("Persist(deleted) failed: %v", err)
	}

	if _, err := store.Get(ctx, "p1", "a.js"); err == nil {
		t.Error("Get() after delete should fail")
	}

	// Deleting an absent entry is idempotent.
	if err := store.Persist(ctx, "p1", "a.js", "", EventDeleted); err != nil {
		t.Errorf("repeated delete should succeed: %v", err)
	}
}

func TestSQLiteStoreListProject(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"b.js", "a.js", "src/c.js"} {
		if err := store.Persist(ctx, "p1", path, "x", EventModified); err != nil {
			t.Fatalf("Persist() failed: %v", err)
		}
	}
	if err := store.Persist(ctx, "p2", "other.js", "y", EventModified); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	files, err := store.ListProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListProject() failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files for p1, got %d", len(files))
	}
	if files[0].Path != "a.js" || files[2].Path != "src/c.js" {
		t.Errorf("unexpected ordering: %+v", files)
	}
}
