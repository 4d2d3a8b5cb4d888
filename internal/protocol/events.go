// Package protocol defines the event envelope and payloads exchanged between
// editor clients and the synchronization core.
//
// The envelope is transport-agnostic: the gateway carries it over WebSocket,
// tests construct it directly. Payloads are JSON documents nested inside the
// envelope's Data field.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeanvil/anvil/internal/diff"
)

// EventType identifies an event on the client/server channel.
type EventType string

// Inbound events (client to server).
const (
	EventJoin       EventType = "join"
	EventLeave      EventType = "leave"
	EventPresence   EventType = "presence"
	EventFileChange EventType = "fileChange"
	EventFileCreate EventType = "fileCreate"
	EventFileDelete EventType = "fileDelete"
	EventFileRename EventType = "fileRename"
	EventResync     EventType = "resync"
)

// Outbound events (server to clients).
const (
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantList   EventType = "participantList"
	EventParticipantLeft   EventType = "participantLeft"
	EventPresenceUpdated   EventType = "presenceUpdated"
	EventFileChanged       EventType = "fileChanged"
	EventFileCreated       EventType = "fileCreated"
	EventFileDeleted       EventType = "fileDeleted"
	EventFileRenamed       EventType = "fileRenamed"
	EventChangeAck         EventType = "changeAck"
	EventWorkspaceSync     EventType = "workspaceSync"
	EventError             EventType = "error"
)

// Event is the wire envelope for every message on the channel.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps payload in an Event envelope.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Timestamp: time.Now(), Data: data}, nil
}

// MustEvent is NewEvent for payloads the server itself constructs, where a
// marshal failure is a programming error.
func MustEvent(t EventType, payload any) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Position is a zero-based cursor location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a selection between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// JoinPayload opens a room session for a connection.
type JoinPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// LeavePayload closes the connection's room session.
type LeavePayload struct {
	ProjectID string `json:"projectId"`
}

// PresencePayload carries a partial presence update; nil fields are left
// untouched on the server.
type PresencePayload struct {
	Cursor     *Position `json:"cursor,omitempty"`
	Selection  *Range    `json:"selection,omitempty"`
	ActiveFile *string   `json:"activeFile,omitempty"`
}

// Participant is the broadcast view of a connected user.
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Color       string    `json:"color"`
	Cursor      *Position `json:"cursor,omitempty"`
	Selection   *Range    `json:"selection,omitempty"`
	ActiveFile  *string   `json:"activeFile,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// ParticipantListPayload is sent to a joiner with the room's current roster.
type ParticipantListPayload struct {
	ProjectID    string        `json:"projectId"`
	Participants []Participant `json:"participants"`
}

// PresenceUpdatedPayload is the presence delta rebroadcast to the room.
type PresenceUpdatedPayload struct {
	UserID     string    `json:"userId"`
	Cursor     *Position `json:"cursor,omitempty"`
	Selection  *Range    `json:"selection,omitempty"`
	ActiveFile *string   `json:"activeFile,omitempty"`
}

// FileChangePayload submits the full post-edit content of a file.
type FileChangePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileChangedPayload is broadcast to the other participants after an accepted
// change. It carries the full new content, not the edit script.
type FileChangedPayload struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Script    []diff.Op `json:"editScript,omitempty"`
}

// ChangeAckPayload is returned to the editor that submitted a change.
type ChangeAckPayload struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// FileCreatePayload requests creation of a file or folder.
type FileCreatePayload struct {
	Path     string `json:"path"`
	IsFolder bool   `json:"isFolder"`
}

// FileDeletePayload requests deletion of a file or folder.
type FileDeletePayload struct {
	Path string `json:"path"`
}

// FileRenamePayload requests a rename/move.
type FileRenamePayload struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// FileDescriptor describes one workspace entry.
type FileDescriptor struct {
	Path     string `json:"path"`
	IsFolder bool   `json:"isFolder"`
}

// FileCreatedPayload echoes a creation to every participant, the actor
// included.
type FileCreatedPayload struct {
	File   FileDescriptor `json:"file"`
	UserID string         `json:"userId"`
}

// FileDeletedPayload echoes a deletion to every participant.
type FileDeletedPayload struct {
	Path   string `json:"path"`
	UserID string `json:"userId"`
}

// FileRenamedPayload echoes a rename to every participant.
type FileRenamedPayload struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
	UserID  string `json:"userId"`
}

// WorkspaceSyncPayload carries the full directory listing after the room
// realigned with the on-disk workspace.
type WorkspaceSyncPayload struct {
	ProjectID string           `json:"projectId"`
	Files     []FileDescriptor `json:"files"`
}

// ErrorPayload reports an operation failure to the originating connection
// only; it is never broadcast.
type ErrorPayload struct {
	Op      EventType `json:"op"`
	Message string    `json:"message"`
}
