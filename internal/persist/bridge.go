package persist

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long a path must stay quiet before its latest
// content is flushed to the durable store.
const DefaultQuietPeriod = 5 * time.Second

// persistTimeout bounds a single store call fired from a timer or an
// immediate notification.
const persistTimeout = 15 * time.Second

// Bridge schedules debounced flushes of file content to a Store.
//
// Each (projectID, path) has at most one outstanding timer. Rescheduling
// cancels the previous timer and replaces the captured content, so only the
// most recent edit is ever flushed. Flush failures are logged and dropped:
// no retry, no backoff, nothing surfaced to clients. The synchronous disk
// write has already happened by the time the bridge is involved, so a lost
// flush costs durability across restarts, not correctness of the live room.
type Bridge struct {
	store Store
	quiet time.Duration

	mu          sync.Mutex
	timers      map[flushKey]*time.Timer
	lastFlushed map[flushKey]time.Time

	logger *log.Logger
}

type flushKey struct {
	projectID string
	path      string
}

// NewBridge creates a bridge flushing to store after quiet. A non-positive
// quiet falls back to DefaultQuietPeriod. If logger is nil, a default logger
// writing to stderr is used.
func NewBridge(store Store, quiet time.Duration, logger *log.Logger) *Bridge {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}
	return &Bridge{
		store:       store,
		quiet:       quiet,
		timers:      make(map[flushKey]*time.Timer),
		lastFlushed: make(map[flushKey]time.Time),
		logger:      logger,
	}
}

// ScheduleFlush (re)arms the quiet-period timer for a path with the given
// content. The content captured here is what the expiring timer sends; a
// later call supersedes both the timer and the content.
func (b *Bridge) ScheduleFlush(projectID, path, content string) {
	key := flushKey{projectID, path}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.timers[key]; ok {
		t.Stop()
	}
	b.timers[key] = time.AfterFunc(b.quiet, func() {
		b.flush(key, content, EventModified)
	})
}

// NotifyImmediate persists without debouncing, for events with no "more edits
// coming" window: folder creation and deletions. The store call runs in its
// own goroutine so callers holding room locks are not blocked on network I/O.
func (b *Bridge) NotifyImmediate(projectID, path, content string, event Event) {
	go b.flush(flushKey{projectID, path}, content, event)
}

// flush performs one store call and records success. Failures are logged and
// dropped.
func (b *Bridge) flush(key flushKey, content string, event Event) {
	b.mu.Lock()
	delete(b.timers, key)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.store.Persist(ctx, key.projectID, key.path, content, event); err != nil {
		b.logger.Printf("Flush failed for %s/%s (%s): %v", key.projectID, key.path, event, err)
		return
	}

	b.mu.Lock()
	b.lastFlushed[key] = time.Now()
	b.mu.Unlock()
}

// Cancel stops and removes any pending timer for the path. Used when the
// path is deleted or renamed away.
func (b *Bridge) Cancel(projectID, path string) {
	key := flushKey{projectID, path}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.timers[key]; ok {
		t.Stop()
		delete(b.timers, key)
	}
	delete(b.lastFlushed, key)
}

// CancelProject stops every pending timer for a project. Called on room
// teardown; no final flush is forced, so an edit still inside its quiet
// period when the last participant leaves may never reach the durable store.
func (b *Bridge) CancelProject(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, t := range b.timers {
		if key.projectID == projectID {
			t.Stop()
			delete(b.timers, key)
		}
	}
	for key := range b.lastFlushed {
		if key.projectID == projectID {
			delete(b.lastFlushed, key)
		}
	}
}

// HasPending reports whether a flush timer is outstanding for the path.
func (b *Bridge) HasPending(projectID, path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.timers[flushKey{projectID, path}]
	return ok
}

// PendingCount returns the number of outstanding flush timers for a project.
func (b *Bridge) PendingCount(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key := range b.timers {
		if key.projectID == projectID {
			n++
		}
	}
	return n
}

// LastFlushed returns the time of the last successful flush for the path.
func (b *Bridge) LastFlushed(projectID, path string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.lastFlushed[flushKey{projectID, path}]
	return ts, ok
}
