// Package persist bridges in-memory room state to durable storage.
//
// The bridge writes nothing to the local workspace; the room layer does that
// synchronously. What the bridge owns is the debounced flush of file content
// to the durable store of record, which outlives the process: one idempotent
// persist operation keyed by (projectID, path), coalescing rapid edits into
// at most one remote write per quiet period.
package persist

import "context"

// Event tags a persist operation for the durable store.
type Event string

const (
	// EventCreated marks the first observation of a path.
	EventCreated Event = "created"
	// EventModified marks a content update.
	EventModified Event = "modified"
	// EventDeleted marks a removal; the store drops the entry.
	EventDeleted Event = "deleted"
)

// Store is the durable store of record for file content.
//
// Persist is an idempotent overwrite keyed by (projectID, path); the store
// never merges. Implementations: HTTPStore (remote persistence service) and
// SQLiteStore (embedded, for local/dev deployments).
type Store interface {
	Persist(ctx context.Context, projectID, path, content string, event Event) error
}
