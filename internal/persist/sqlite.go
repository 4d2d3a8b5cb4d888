package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is an embedded durable store backed by SQLite with WAL mode.
//
// It exists for local and single-box deployments where no remote persistence
// service is configured, and doubles as the recovery source the `anvild
// store` commands inspect.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// StoredFile is one persisted entry as read back from the store.
type StoredFile struct {
	ProjectID string
	Path      string
	Content   string
	Event     Event
	UpdatedAt time.Time
}

// OpenSQLite opens (creating if needed) the store database at path.
//
// The caller MUST call Close() when done.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{conn: conn, path: path}

	// WAL mode for concurrent readers during flushes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		project_id TEXT NOT NULL,
		path       TEXT NOT NULL,
		content    TEXT NOT NULL,
		event      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}

// Persist implements Store. Created and modified events overwrite the row
// for (projectID, path); deleted events remove it.
func (s *SQLiteStore) Persist(ctx context.Context, projectID, path, content string, event Event) error {
	if event == EventDeleted {
		_, err := s.conn.ExecContext(ctx,
			`DELETE FROM files WHERE project_id = ? AND path = ?`, projectID, path)
		if err != nil {
			return fmt.Errorf("failed to delete %s/%s from store: %w", projectID, path, err)
		}
		return nil
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO files (project_id, path, content, event, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			content = excluded.content,
			event = excluded.event,
			updated_at = excluded.updated_at`,
		projectID, path, content, string(event), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to persist %s/%s: %w", projectID, path, err)
	}
	return nil
}

// Get returns the stored entry for (projectID, path).
func (s *SQLiteStore) Get(ctx context.Context, projectID, path string) (*StoredFile, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT project_id, path, content, event, updated_at
		FROM files WHERE project_id = ? AND path = ?`, projectID, path)

	f, err := scanStoredFile(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no stored entry for %s/%s", projectID, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s from store: %w", projectID, path, err)
	}
	return f, nil
}

// ListProject returns every stored entry for a project, ordered by path.
func (s *SQLiteStore) ListProject(ctx context.Context, projectID string) ([]StoredFile, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT project_id, path, content, event, updated_at
		FROM files WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project %s: %w", projectID, err)
	}
	defer rows.Close()

	var files []StoredFile
	for rows.Next() {
		f, err := scanStoredFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store row: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// FileCount returns the number of stored entries across all projects.
func (s *SQLiteStore) FileCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stored files: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredFile(row rowScanner) (*StoredFile, error) {
	var f StoredFile
	var event, updatedAt string
	if err := row.Scan(&f.ProjectID, &f.Path, &f.Content, &event, &updatedAt); err != nil {
		return nil, err
	}
	f.Event = Event(event)
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		f.UpdatedAt = ts
	}
	return &f, nil
}
