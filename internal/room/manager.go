package room

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/codeanvil/anvil/internal/diff"
	"github.com/codeanvil/anvil/internal/persist"
	"github.com/codeanvil/anvil/internal/protocol"
	"github.com/codeanvil/anvil/internal/workspace"
)

// Manager is the keyed registry of active rooms and the entry point for
// every client operation. It orchestrates the diff engine, the on-disk
// workspace, and the persistence bridge, and decides what to broadcast to
// which participants.
//
// Write discipline: for every mutating operation the disk write happens
// first and the in-memory commit second. A disk failure therefore never
// leaves the room ahead of the workspace; the error goes back to the
// initiating caller only and nothing is broadcast.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	ws     *workspace.Workspace
	bridge *persist.Bridge
	logger *log.Logger
}

// NewManager creates a Manager over the given workspace and persistence
// bridge. If logger is nil, a default logger writing to stderr is used.
func NewManager(ws *workspace.Workspace, bridge *persist.Bridge, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[room] ", log.LstdFlags)
	}
	return &Manager{
		rooms:  make(map[string]*Room),
		ws:     ws,
		bridge: bridge,
		logger: logger,
	}
}

// getRoom returns the room for projectID, or nil when no one has joined it.
func (m *Manager) getRoom(projectID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[projectID]
}

// requireRoom is getRoom with the no-active-room error callers report back
// to the origin connection.
func (m *Manager) requireRoom(projectID string) (*Room, error) {
	r := m.getRoom(projectID)
	if r == nil {
		return nil, fmt.Errorf("no active room for project %s", projectID)
	}
	return r, nil
}

// Join adds a connection to the project's room, creating the room on first
// join. The joiner receives the full participant list; everyone else
// receives a participantJoined event.
func (m *Manager) Join(conn Conn, projectID, userID, username string) error {
	if projectID == "" || userID == "" {
		return fmt.Errorf("join requires a project id and user id")
	}

	m.mu.Lock()
	r, ok := m.rooms[projectID]
	if !ok {
		r = newRoom(projectID)
		m.rooms[projectID] = r
		m.logger.Printf("Room created: %s", projectID)
	}
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Presence{
		UserID:      userID,
		DisplayName: username,
		Color:       r.nextColor(),
		LastSeen:    time.Now(),
	}
	r.participants[conn] = p

	r.broadcast(protocol.MustEvent(protocol.EventParticipantJoined, p.toParticipant()), conn)
	conn.Send(protocol.MustEvent(protocol.EventParticipantList, protocol.ParticipantListPayload{
		ProjectID:    projectID,
		Participants: r.roster(),
	}))

	m.logger.Printf("User %s joined room %s (%d participants)", userID, projectID, len(r.participants))
	return nil
}

// Leave removes a connection from the room. When the last participant
// leaves, the room is torn down: every outstanding flush timer is cancelled
// without a final flush, and the room entry is deleted.
func (m *Manager) Leave(conn Conn, projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[projectID]
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[conn]
	if !ok {
		return
	}
	delete(r.participants, conn)

	r.broadcast(protocol.MustEvent(protocol.EventParticipantLeft, protocol.Participant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Color:       p.Color,
	}), nil)

	m.logger.Printf("User %s left room %s (%d participants)", p.UserID, projectID, len(r.participants))

	if len(r.participants) == 0 {
		m.bridge.CancelProject(projectID)
		delete(m.rooms, projectID)
		m.logger.Printf("Room destroyed: %s", projectID)
	}
}

// UpdatePresence merges the non-nil fields of update into the participant's
// presence, refreshes lastSeen, and broadcasts the delta to the rest of the
// room. Cursor and selection bounds are caller-trusted.
func (m *Manager) UpdatePresence(conn Conn, projectID string, update protocol.PresencePayload) error {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[conn]
	if !ok {
		return fmt.Errorf("connection is not a participant of project %s", projectID)
	}

	if update.Cursor != nil {
		p.Cursor = update.Cursor
	}
	if update.Selection != nil {
		p.Selection = update.Selection
	}
	if update.ActiveFile != nil {
		p.ActiveFile = update.ActiveFile
	}
	p.LastSeen = time.Now()

	r.broadcast(protocol.MustEvent(protocol.EventPresenceUpdated, protocol.PresenceUpdatedPayload{
		UserID:     p.UserID,
		Cursor:     update.Cursor,
		Selection:  update.Selection,
		ActiveFile: update.ActiveFile,
	}), conn)
	return nil
}

// ApplyFileChange accepts the full post-edit content of a file. It computes
// the edit script against the cached content, writes the file to disk,
// commits the new content and version to room state, schedules a debounced
// durable flush, and broadcasts the full new content to the other
// participants. The new version is returned to the caller.
func (m *Manager) ApplyFileChange(conn Conn, projectID, path, content, userID string) (int, error) {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.fileCache[path] // empty string when unseen
	script := diff.ComputeEditScript(old, content)

	if err := m.ws.WriteFile(projectID, path, content); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}

	version := r.fileVersion[path] + 1
	r.fileCache[path] = content
	r.fileVersion[path] = version

	now := time.Now()
	r.appendChange(ChangeRecord{
		Path:       path,
		Content:    content,
		Timestamp:  now,
		UserID:     userID,
		Version:    version,
		EditScript: script,
	})
	r.lastMutation = mutationInfo{at: now, by: userID}

	m.bridge.ScheduleFlush(projectID, path, content)

	r.broadcast(protocol.MustEvent(protocol.EventFileChanged, protocol.FileChangedPayload{
		Path:      path,
		Content:   content,
		Version:   version,
		UserID:    userID,
		Timestamp: now,
		Script:    script,
	}), conn)

	return version, nil
}

// CreateFile creates a file or folder on disk and seeds room state for plain
// files. Creation is echoed to every participant, the actor included, so all
// editor UIs converge from the same event. Folders are persisted
// immediately; files go through the debounce path since content may follow.
func (m *Manager) CreateFile(conn Conn, projectID, path string, isFolder bool, userID string) (protocol.FileDescriptor, error) {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return protocol.FileDescriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := m.ws.Create(projectID, path, isFolder); err != nil {
		return protocol.FileDescriptor{}, err
	}

	if !isFolder {
		r.fileCache[path] = ""
		r.fileVersion[path] = 1
	}
	r.lastMutation = mutationInfo{at: time.Now(), by: userID}

	desc := protocol.FileDescriptor{Path: path, IsFolder: isFolder}
	r.broadcast(protocol.MustEvent(protocol.EventFileCreated, protocol.FileCreatedPayload{
		File:   desc,
		UserID: userID,
	}), nil)

	if isFolder {
		m.bridge.NotifyImmediate(projectID, path, "", persist.EventCreated)
	} else {
		m.bridge.ScheduleFlush(projectID, path, "")
	}

	return desc, nil
}

// DeleteFile removes a file or folder from disk and purges every piece of
// room state for the path and, for folders, everything below it: cache,
// versions, pending history, and flush timers. The durable store is notified
// immediately.
func (m *Manager) DeleteFile(conn Conn, projectID, path, userID string) error {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := m.ws.Delete(projectID, path); err != nil {
		return err
	}

	for _, p := range r.pathsUnder(path) {
		r.dropPath(p)
		m.bridge.Cancel(projectID, p)
	}
	// The path itself may be an untracked folder.
	m.bridge.Cancel(projectID, path)
	r.lastMutation = mutationInfo{at: time.Now(), by: userID}

	r.broadcast(protocol.MustEvent(protocol.EventFileDeleted, protocol.FileDeletedPayload{
		Path:   path,
		UserID: userID,
	}), nil)

	m.bridge.NotifyImmediate(projectID, path, "", persist.EventDeleted)
	return nil
}

// RenameFile moves a file or folder on disk and transfers room state from
// the old path to the new one. The durable store drops the old path
// immediately; the preserved content re-enters the debounce path under the
// new path.
func (m *Manager) RenameFile(conn Conn, projectID, oldPath, newPath, userID string) error {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := m.ws.Rename(projectID, oldPath, newPath); err != nil {
		return err
	}

	for _, p := range r.pathsUnder(oldPath) {
		moved := newPath + p[len(oldPath):]
		if content, ok := r.fileCache[p]; ok {
			r.fileCache[moved] = content
			m.bridge.ScheduleFlush(projectID, moved, content)
		}
		if v, ok := r.fileVersion[p]; ok {
			r.fileVersion[moved] = v
		}
		if hist, ok := r.pending[p]; ok {
			r.pending[moved] = hist
		}
		r.dropPath(p)
		m.bridge.Cancel(projectID, p)
	}
	r.lastMutation = mutationInfo{at: time.Now(), by: userID}

	r.broadcast(protocol.MustEvent(protocol.EventFileRenamed, protocol.FileRenamedPayload{
		OldPath: oldPath,
		NewPath: newPath,
		UserID:  userID,
	}), nil)

	m.bridge.NotifyImmediate(projectID, oldPath, "", persist.EventDeleted)
	return nil
}

// Resync realigns room state with the on-disk workspace and broadcasts the
// full directory listing to every participant. Cache entries for paths that
// vanished from disk are dropped. Used after out-of-band filesystem changes
// (terminal commands, dependency installs) observed by the watcher, and on
// explicit client request.
func (m *Manager) Resync(projectID string) error {
	r, err := m.requireRoom(projectID)
	if err != nil {
		return err
	}

	files, err := m.ws.List(projectID)
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f.Path] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for p := range r.fileVersion {
		if !onDisk[p] {
			r.dropPath(p)
			m.bridge.Cancel(projectID, p)
		}
	}

	r.broadcast(protocol.MustEvent(protocol.EventWorkspaceSync, protocol.WorkspaceSyncPayload{
		ProjectID: projectID,
		Files:     files,
	}), nil)

	m.logger.Printf("Resynced room %s from disk (%d entries)", projectID, len(files))
	return nil
}

// LastMutation reports who touched the project last and when. External
// lifecycle tracking polls this; the core never decides on its own when to
// report.
func (m *Manager) LastMutation(projectID string) (userID string, at time.Time, ok bool) {
	r := m.getRoom(projectID)
	if r == nil {
		return "", time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastMutation.at.IsZero() {
		return "", time.Time{}, false
	}
	return r.lastMutation.by, r.lastMutation.at, true
}

// ActiveProjects returns the project ids with a live room.
func (m *Manager) ActiveProjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Participants returns the roster of a room, or nil when the room does not
// exist.
func (m *Manager) Participants(projectID string) []protocol.Participant {
	r := m.getRoom(projectID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster()
}

// FileVersion returns the current version counter for a path, with ok false
// when the path is untracked.
func (m *Manager) FileVersion(projectID, path string) (int, bool) {
	r := m.getRoom(projectID)
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.fileVersion[path]
	return v, ok
}

// ChangeHistory returns a copy of the pending change records for a path.
func (m *Manager) ChangeHistory(projectID, path string) []ChangeRecord {
	r := m.getRoom(projectID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hist := r.pending[path]
	out := make([]ChangeRecord, len(hist))
	copy(out, hist)
	return out
}
