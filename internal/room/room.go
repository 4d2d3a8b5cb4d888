// Package room owns the in-memory collaboration state of active projects.
//
// One Room exists per active project, created on first join and destroyed
// when the last participant leaves. A room tracks who is connected (with live
// cursor/selection presence), the last-known content and version of every
// touched file, and a capped per-path history of accepted changes. The
// on-disk workspace remains the source of truth for content; the room's file
// cache is a best-effort mirror kept for diffing and broadcasting.
package room

import (
	"sync"
	"time"

	"github.com/codeanvil/anvil/internal/diff"
	"github.com/codeanvil/anvil/internal/protocol"
)

// maxPendingChanges caps the per-path change history. The session audit
// trail would otherwise grow without bound for the life of the room.
const maxPendingChanges = 100

// palette is the fixed set of presence colors handed out at join time.
// Colors cycle per room; simultaneous participants beyond the palette size
// repeat colors, which is cosmetic only.
var palette = []string{
	"#e06c75", // red
	"#61afef", // blue
	"#98c379", // green
	"#c678dd", // purple
	"#d19a66", // orange
	"#56b6c2", // cyan
	"#e5c07b", // yellow
	"#f06292", // pink
}

// Conn is a participant's outbound channel into the transport layer.
//
// Send must not block: the room layer calls it while holding room state
// locks. Transport implementations buffer and drop rather than stall the
// room.
type Conn interface {
	// Key uniquely identifies the connection for the room's lifetime.
	Key() string
	// Send queues an event for delivery to the client.
	Send(ev protocol.Event)
}

// Presence is one connected participant's live editor state.
type Presence struct {
	UserID      string
	DisplayName string
	Color       string
	Cursor      *protocol.Position
	Selection   *protocol.Range
	ActiveFile  *string
	LastSeen    time.Time
}

// toParticipant converts to the broadcast representation.
func (p *Presence) toParticipant() protocol.Participant {
	return protocol.Participant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Color:       p.Color,
		Cursor:      p.Cursor,
		Selection:   p.Selection,
		ActiveFile:  p.ActiveFile,
		LastSeen:    p.LastSeen,
	}
}

// ChangeRecord is the audit entry for one accepted content mutation.
type ChangeRecord struct {
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"userId"`
	Version    int       `json:"version"`
	EditScript []diff.Op `json:"editScript"`
}

// mutationInfo records who touched the project last, for idle reporting.
type mutationInfo struct {
	at time.Time
	by string
}

// Room is the in-memory session for one project. Every operation on a room
// is serialized through its mutex, which preserves the causal ordering that
// a single event loop would give for free: broadcasts leave the room in the
// same order the mutations were applied.
type Room struct {
	mu           sync.Mutex
	projectID    string
	participants map[Conn]*Presence
	fileCache    map[string]string
	fileVersion  map[string]int
	pending      map[string][]ChangeRecord
	lastMutation mutationInfo
	joinSeq      int
}

func newRoom(projectID string) *Room {
	return &Room{
		projectID:    projectID,
		participants: make(map[Conn]*Presence),
		fileCache:    make(map[string]string),
		fileVersion:  make(map[string]int),
		pending:      make(map[string][]ChangeRecord),
	}
}

// nextColor hands out the next palette color for a joining participant.
func (r *Room) nextColor() string {
	c := palette[r.joinSeq%len(palette)]
	r.joinSeq++
	return c
}

// roster returns the current participant list for a joiner.
func (r *Room) roster() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.toParticipant())
	}
	return out
}

// broadcast sends ev to every participant except the one on except.
// A nil except reaches everyone, which is how creation, deletion, and rename
// events are echoed back to the actor.
func (r *Room) broadcast(ev protocol.Event, except Conn) {
	for conn := range r.participants {
		if conn == except {
			continue
		}
		conn.Send(ev)
	}
}

// appendChange appends a change record, evicting the oldest entry once the
// per-path cap is reached.
func (r *Room) appendChange(rec ChangeRecord) {
	history := append(r.pending[rec.Path], rec)
	if len(history) > maxPendingChanges {
		history = history[len(history)-maxPendingChanges:]
	}
	r.pending[rec.Path] = history
}

// dropPath removes every per-path entry for path. Timer cancellation is the
// bridge's job and happens at the call site.
func (r *Room) dropPath(path string) {
	delete(r.fileCache, path)
	delete(r.fileVersion, path)
	delete(r.pending, path)
}

// pathsUnder returns path itself plus every tracked path below it, so folder
// deletes and renames can sweep their children.
func (r *Room) pathsUnder(path string) []string {
	prefix := path + "/"
	var out []string
	for p := range r.fileVersion {
		if p == path || len(p) > len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	// fileCache can hold paths fileVersion does not (never the reverse),
	// but sweep both to be safe.
	for p := range r.fileCache {
		if _, ok := r.fileVersion[p]; ok {
			continue
		}
		if p == path || len(p) > len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out
}
