// Package workspace performs all on-disk operations for project file trees.
//
// Each project lives under <root>/<projectID>/. The on-disk tree is the
// source of truth for file content at rest; the room layer keeps a best-effort
// in-memory mirror on top of it.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeanvil/anvil/internal/protocol"
)

// Workspace manages project directories under a single root.
type Workspace struct {
	root string
}

// New creates a Workspace rooted at root, creating the directory if needed.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// ProjectDir returns the on-disk directory for a project, creating it if
// needed.
func (w *Workspace) ProjectDir(projectID string) (string, error) {
	if err := validateSegment(projectID); err != nil {
		return "", fmt.Errorf("invalid project id %q: %w", projectID, err)
	}
	dir := filepath.Join(w.root, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	return dir, nil
}

// Resolve maps a project-relative path to an absolute on-disk path, rejecting
// absolute paths and any path escaping the project directory.
func (w *Workspace) Resolve(projectID, relPath string) (string, error) {
	dir, err := w.ProjectDir(projectID)
	if err != nil {
		return "", err
	}
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := path.Clean("/" + filepath.ToSlash(relPath))
	if cleaned == "/" {
		return "", fmt.Errorf("path %q resolves to the project root", relPath)
	}
	// Clean("/"+p) cannot contain ".." segments, so joining is safe.
	return filepath.Join(dir, filepath.FromSlash(cleaned)), nil
}

// ReadFile returns the content of a project file.
func (w *Workspace) ReadFile(projectID, relPath string) (string, error) {
	abs, err := w.Resolve(projectID, relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return string(data), nil
}

// WriteFile writes content to a project file, creating parent directories as
// needed. Editors submit full content, so this is always a whole-file write.
func (w *Workspace) WriteFile(projectID, relPath, content string) error {
	abs, err := w.Resolve(projectID, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// Create creates an empty file or a folder. Creating an entry that already
// exists is an error.
func (w *Workspace) Create(projectID, relPath string, isFolder bool) error {
	abs, err := w.Resolve(projectID, relPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err == nil {
		return fmt.Errorf("%s already exists", relPath)
	}
	if isFolder {
		if err := os.MkdirAll(abs, 0755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", relPath, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", relPath, err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", relPath, err)
	}
	return f.Close()
}

// Delete removes a file or folder (recursively).
func (w *Workspace) Delete(projectID, relPath string) error {
	abs, err := w.Resolve(projectID, relPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err != nil {
		return fmt.Errorf("failed to delete %s: %w", relPath, err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to delete %s: %w", relPath, err)
	}
	return nil
}

// Rename moves a file or folder within the project. The target must not
// already exist.
func (w *Workspace) Rename(projectID, oldPath, newPath string) error {
	oldAbs, err := w.Resolve(projectID, oldPath)
	if err != nil {
		return err
	}
	newAbs, err := w.Resolve(projectID, newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(newAbs); err == nil {
		return fmt.Errorf("rename target %s already exists", newPath)
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", newPath, err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Exists reports whether the entry is present on disk.
func (w *Workspace) Exists(projectID, relPath string) bool {
	abs, err := w.Resolve(projectID, relPath)
	if err != nil {
		return false
	}
	_, err = os.Lstat(abs)
	return err == nil
}

// List walks the project tree and returns descriptors for every entry,
// sorted by path. The project root itself is not included.
func (w *Workspace) List(projectID string) ([]protocol.FileDescriptor, error) {
	dir, err := w.ProjectDir(projectID)
	if err != nil {
		return nil, err
	}

	var files []protocol.FileDescriptor
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries vanishing mid-walk are normal under concurrent
			// terminal activity; skip them.
			return nil
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, protocol.FileDescriptor{
			Path:     filepath.ToSlash(rel),
			IsFolder: d.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list project %s: %w", projectID, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// validateSegment rejects project ids that could traverse outside the root.
func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("empty")
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("contains path separators")
	}
	return nil
}
