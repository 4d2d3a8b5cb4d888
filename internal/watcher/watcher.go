// Package watcher observes the on-disk workspace for changes made outside
// the synchronization path: shell commands, package managers, code
// generators. Raw filesystem events are classified into three notification
// tiers before the room layer reconciles:
//
//   - fast: build/dependency manifests, observed quickly because they often
//     gate a later bulk operation;
//   - bulk: anything inside a dependency directory, collapsed into a single
//     directory-changed notification since installs touch thousands of files;
//   - default: everything else, after a short stabilization wait so writes
//     in progress are not observed mid-write.
//
// VCS metadata, editor metadata, and swap/temp files are excluded from all
// tiers.
package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tier is the latency class of a notification.
type Tier int

const (
	// TierFast is for manifest changes (~100ms debounce).
	TierFast Tier = iota
	// TierBulk is for dependency-directory churn (~1s debounce, collapsed).
	TierBulk
	// TierDefault is for ordinary file events (short stabilization wait).
	TierDefault
)

// String returns a human-readable representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierBulk:
		return "bulk"
	case TierDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Notification is a debounced, classified batch of changed paths, relative
// to the watch root. For TierBulk the paths are dependency-directory roots,
// not individual files.
type Notification struct {
	Tier  Tier
	Paths []string
}

// FileInfo is one entry from a Resync walk.
type FileInfo struct {
	Path  string
	IsDir bool
}

// Config holds watcher configuration.
type Config struct {
	// FastDebounce batches manifest events.
	FastDebounce time.Duration
	// BulkDebounce batches dependency-directory events.
	BulkDebounce time.Duration
	// StabilizeDelay is the wait applied to ordinary events so files are
	// not observed mid-write.
	StabilizeDelay time.Duration
	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FastDebounce:   100 * time.Millisecond,
		BulkDebounce:   1000 * time.Millisecond,
		StabilizeDelay: 250 * time.Millisecond,
		Logger:         log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Watcher observes a directory tree recursively and emits classified
// notifications. It must be started with Start() and stopped with Stop().
type Watcher struct {
	root   string
	rules  Rules
	config *Config

	fsw    *fsnotify.Watcher
	events chan Notification
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	batches map[Tier]*batch
}

// batch accumulates paths for one tier until its window expires.
type batch struct {
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates a Watcher over root. Rules classify and filter events; pass
// DefaultRules() unless a project overrides them.
func New(root string, rules Rules, config *Config) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:   abs,
		rules:  rules,
		config: config,
		fsw:    fsw,
		events: make(chan Notification, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		batches: map[Tier]*batch{
			TierFast:    {pending: make(map[string]struct{})},
			TierBulk:    {pending: make(map[string]struct{})},
			TierDefault: {pending: make(map[string]struct{})},
		},
	}, nil
}

// Start walks the tree, registers every non-excluded directory, and begins
// emitting notifications.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.config.Logger.Printf("Watching %s", w.root)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit. Pending
// debounce windows are discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for _, b := range w.batches {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	w.mu.Unlock()

	close(w.done)
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

// Events returns the channel emitting classified notifications.
func (w *Watcher) Events() <-chan Notification {
	return w.events
}

// Errors returns the channel emitting watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Resync walks the tree on demand and returns the full listing, honoring
// the exclusion rules. Used when the room layer needs to realign with disk
// immediately instead of waiting for events.
func (w *Watcher) Resync() ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // entries vanishing mid-walk are expected
		}
		if p == w.root {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if w.rules.IsExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, FileInfo{Path: rel, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", w.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// addRecursive registers dir and every non-excluded directory below it.
// Dependency directories are registered too: bulk-tier notifications need
// their events.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && rel != "." && w.rules.IsExcluded(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.config.Logger.Printf("Cannot watch %s: %v", p, err)
		}
		return nil
	})
}

// processEvents is the main loop converting raw fsnotify events into
// classified, debounced notifications.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Chmod-only events are noise.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if w.rules.IsExcluded(rel) {
		return
	}

	// Newly created directories join the watch set so their contents are
	// observed too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.config.Logger.Printf("Cannot watch new directory %s: %v", event.Name, err)
			}
		}
	}

	tier, key := w.classify(rel)
	w.queue(tier, key)
}

// classify maps a relative path to its tier and batch key. Bulk events are
// keyed by the dependency-directory root so an install collapses to one
// notification.
func (w *Watcher) classify(rel string) (Tier, string) {
	if root, ok := w.rules.DependencyRoot(rel); ok {
		return TierBulk, root
	}
	if w.rules.IsManifest(rel) {
		return TierFast, rel
	}
	return TierDefault, rel
}

// queue adds key to the tier's batch and (re)arms its window.
func (w *Watcher) queue(tier Tier, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	b := w.batches[tier]
	b.pending[key] = struct{}{}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(w.window(tier), func() {
		w.fire(tier)
	})
}

// fire drains the tier's batch into one notification.
func (w *Watcher) fire(tier Tier) {
	w.mu.Lock()
	b := w.batches[tier]
	if len(b.pending) == 0 {
		b.timer = nil
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(b.pending))
	for p := range b.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	b.pending = make(map[string]struct{})
	b.timer = nil
	w.mu.Unlock()

	select {
	case w.events <- Notification{Tier: tier, Paths: paths}:
	case <-w.done:
	}
}

func (w *Watcher) window(tier Tier) time.Duration {
	switch tier {
	case TierFast:
		return w.config.FastDebounce
	case TierBulk:
		return w.config.BulkDebounce
	default:
		return w.config.StabilizeDelay
	}
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
