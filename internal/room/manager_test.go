package room

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/codeanvil/anvil/internal/persist"
	"github.com/codeanvil/anvil/internal/protocol"
	"github.com/codeanvil/anvil/internal/workspace"
)

// fakeConn records every event sent to it.
type fakeConn struct {
	key    string
	mu     sync.Mutex
	events []protocol.Event
}

func (c *fakeConn) Key() string { return c.key }

func (c *fakeConn) Send(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fakeConn) ofType(t protocol.EventType) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// recordingStore is a persist.Store capturing calls.
type recordingStore struct {
	mu    sync.Mutex
	calls []storeCall
}

type storeCall struct {
	projectID string
	path      string
	content   string
	event     persist.Event
}

func (s *recordingStore) Persist(ctx context.Context, projectID, path, content string, event persist.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{projectID, path, content, event})
	return nil
}

func (s *recordingStore) byEvent(event persist.Event) []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storeCall
	for _, c := range s.calls {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

const testQuiet = 80 * time.Millisecond

// newTestManager builds a manager over a temp workspace with a short quiet
// period and returns the recording store behind its bridge.
func newTestManager(t *testing.T) (*Manager, *workspace.Workspace, *recordingStore) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New() failed: %v", err)
	}
	store := &recordingStore{}
	logger := log.New(os.Stderr, "[test] ", log.LstdFlags)
	bridge := persist.NewBridge(store, testQuiet, logger)
	return NewManager(ws, bridge, logger), ws, store
}

func join(t *testing.T, m *Manager, conn Conn, projectID, userID string) {
	t.Helper()
	if err := m.Join(conn, projectID, userID, "user "+userID); err != nil {
		t.Fatalf("Join(%s) failed: %v", userID, err)
	}
}

func TestJoinBroadcastsAndSendsRoster(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}

	join(t, m, a, "p1", "A")
	join(t, m, b, "p1", "B")

	// A sees B join; B does not see their own join event.
	if got := a.ofType(protocol.EventParticipantJoined); len(got) != 1 {
		t.Errorf("A should see exactly 1 participantJoined, got %d", len(got))
	}
	if got := b.ofType(protocol.EventParticipantJoined); len(got) != 0 {
		t.Errorf("B should not see their own join, got %d events", len(got))
	}

	// Both received their roster on join; B's has two entries.
	lists := b.ofType(protocol.EventParticipantList)
	if len(lists) != 1 {
		t.Fatalf("B should receive exactly 1 participantList, got %d", len(lists))
	}
	if got := m.Participants("p1"); len(got) != 2 {
		t.Errorf("expected 2 participants, got %d", len(got))
	}
}

func TestJoinValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Join(&fakeConn{key: "a"}, "", "A", "A"); err == nil {
		t.Error("Join with empty project id should fail")
	}
	if err := m.Join(&fakeConn{key: "a"}, "p1", "", "A"); err == nil {
		t.Error("Join with empty user id should fail")
	}
}

// TestFileChangeScenario is the end-to-end two-participant exchange: edits
// broadcast to the other side only, versions count up, and the debounced
// flush carries only the latest content.
func TestFileChangeScenario(t *testing.T) {
	m, ws, store := newTestManager(t)
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}
	join(t, m, a, "p1", "A")
	join(t, m, b, "p1", "B")

	v, err := m.ApplyFileChange(a, "p1", "main.js", "console.log(1)", "A")
	if err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}
	if v != 1 {
		t.Errorf("first change version = %d, want 1", v)
	}

	// B receives the broadcast, A does not receive their own.
	changed := b.ofType(protocol.EventFileChanged)
	if len(changed) != 1 {
		t.Fatalf("B should see 1 fileChanged, got %d", len(changed))
	}
	var payload protocol.FileChangedPayload
	if err := json.Unmarshal(changed[0].Data, &payload); err != nil {
		t.Fatalf("failed to decode fileChanged payload: %v", err)
	}
	if payload.Path != "main.js" || payload.Content != "console.log(1)" ||
		payload.Version != 1 || payload.UserID != "A" {
		t.Errorf("unexpected fileChanged payload: %+v", payload)
	}
	if got := a.ofType(protocol.EventFileChanged); len(got) != 0 {
		t.Errorf("A should not receive their own broadcast, got %d", len(got))
	}

	// Disk write is synchronous.
	if got, err := ws.ReadFile("p1", "main.js"); err != nil || got != "console.log(1)" {
		t.Errorf("disk content = %q (err %v), want console.log(1)", got, err)
	}

	// Second edit within the quiet period supersedes the first flush.
	v, err = m.ApplyFileChange(a, "p1", "main.js", "console.log(2)", "A")
	if err != nil {
		t.Fatalf("second ApplyFileChange() failed: %v", err)
	}
	if v != 2 {
		t.Errorf("second change version = %d, want 2", v)
	}

	time.Sleep(3 * testQuiet)

	flushes := store.byEvent(persist.EventModified)
	if len(flushes) != 1 {
		t.Fatalf("expected exactly 1 durable flush, got %d: %+v", len(flushes), flushes)
	}
	if flushes[0].content != "console.log(2)" {
		t.Errorf("flushed content = %q, want console.log(2)", flushes[0].content)
	}
}

func TestVersionMonotonicity(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	contents := []string{"1", "2", "3", "4", "5"}
	for i, c := range contents {
		v, err := m.ApplyFileChange(a, "p1", "f.txt", c, "A")
		if err != nil {
			t.Fatalf("change %d failed: %v", i, err)
		}
		if v != i+1 {
			t.Errorf("change %d returned version %d, want %d", i, v, i+1)
		}
	}

	hist := m.ChangeHistory("p1", "f.txt")
	if len(hist) != len(contents) {
		t.Fatalf("expected %d change records, got %d", len(contents), len(hist))
	}
	for i, rec := range hist {
		if rec.Version != i+1 {
			t.Errorf("record %d has version %d, want %d", i, rec.Version, i+1)
		}
	}
}

// TestDiskFailureCommitsNothing forces a disk write failure and verifies the
// room state did not advance.
func TestDiskFailureCommitsNothing(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, err := m.CreateFile(a, "p1", "src", true, "A"); err != nil {
		t.Fatalf("CreateFile(folder) failed: %v", err)
	}

	// Writing file content over an existing directory fails on disk.
	if _, err := m.ApplyFileChange(a, "p1", "src", "oops", "A"); err == nil {
		t.Fatal("ApplyFileChange over a directory should fail")
	}
	if _, ok := m.FileVersion("p1", "src"); ok {
		t.Error("failed change must not commit a version")
	}
	if got := a.ofType(protocol.EventFileChanged); len(got) != 0 {
		t.Error("failed change must not broadcast")
	}
}

func TestCreateFileSeedsStateAndEchoes(t *testing.T) {
	m, ws, store := newTestManager(t)
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}
	join(t, m, a, "p1", "A")
	join(t, m, b, "p1", "B")

	desc, err := m.CreateFile(a, "p1", "index.ts", false, "A")
	if err != nil {
		t.Fatalf("CreateFile() failed: %v", err)
	}
	if desc.IsFolder {
		t.Error("descriptor should not be a folder")
	}

	// Creation is echoed to the actor too, unlike edits.
	if got := a.ofType(protocol.EventFileCreated); len(got) != 1 {
		t.Errorf("actor should see fileCreated, got %d", len(got))
	}
	if got := b.ofType(protocol.EventFileCreated); len(got) != 1 {
		t.Errorf("other participant should see fileCreated, got %d", len(got))
	}

	if v, ok := m.FileVersion("p1", "index.ts"); !ok || v != 1 {
		t.Errorf("created file version = %d (ok=%v), want 1", v, ok)
	}
	if !ws.Exists("p1", "index.ts") {
		t.Error("created file missing on disk")
	}

	// Folder creation notifies the store immediately, without debounce.
	if _, err := m.CreateFile(a, "p1", "lib", true, "A"); err != nil {
		t.Fatalf("CreateFile(folder) failed: %v", err)
	}
	waitFor(t, func() bool { return len(store.byEvent(persist.EventCreated)) == 1 })
}

// TestDeleteClearsAllState covers the per-path invariant: after a delete the
// path is gone from cache, versions, history, and has no live timer.
func TestDeleteClearsAllState(t *testing.T) {
	m, ws, store := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, err := m.ApplyFileChange(a, "p1", "main.js", "x", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}

	if err := m.DeleteFile(a, "p1", "main.js", "A"); err != nil {
		t.Fatalf("DeleteFile() failed: %v", err)
	}

	if _, ok := m.FileVersion("p1", "main.js"); ok {
		t.Error("fileVersion entry should be gone")
	}
	if hist := m.ChangeHistory("p1", "main.js"); len(hist) != 0 {
		t.Error("pending changes should be gone")
	}
	if ws.Exists("p1", "main.js") {
		t.Error("file should be gone from disk")
	}
	if got := a.ofType(protocol.EventFileDeleted); len(got) != 1 {
		t.Errorf("actor should see fileDeleted, got %d", len(got))
	}

	waitFor(t, func() bool { return len(store.byEvent(persist.EventDeleted)) == 1 })

	// The cancelled flush timer never fires.
	time.Sleep(3 * testQuiet)
	if got := store.byEvent(persist.EventModified); len(got) != 0 {
		t.Errorf("cancelled timer still flushed: %+v", got)
	}
}

func TestDeleteFolderSweepsChildren(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, err := m.ApplyFileChange(a, "p1", "src/a.js", "a", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}
	if _, err := m.ApplyFileChange(a, "p1", "src/deep/b.js", "b", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}

	if err := m.DeleteFile(a, "p1", "src", "A"); err != nil {
		t.Fatalf("DeleteFile(folder) failed: %v", err)
	}

	for _, p := range []string{"src/a.js", "src/deep/b.js"} {
		if _, ok := m.FileVersion("p1", p); ok {
			t.Errorf("child %s should be swept", p)
		}
	}
}

func TestRenameTransfersState(t *testing.T) {
	m, ws, store := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	for i := 0; i < 3; i++ {
		if _, err := m.ApplyFileChange(a, "p1", "old.js", "content", "A"); err != nil {
			t.Fatalf("ApplyFileChange() failed: %v", err)
		}
	}

	if err := m.RenameFile(a, "p1", "old.js", "new.js", "A"); err != nil {
		t.Fatalf("RenameFile() failed: %v", err)
	}

	if _, ok := m.FileVersion("p1", "old.js"); ok {
		t.Error("old path should be untracked after rename")
	}
	if v, ok := m.FileVersion("p1", "new.js"); !ok || v != 3 {
		t.Errorf("new path version = %d (ok=%v), want 3", v, ok)
	}
	if len(m.ChangeHistory("p1", "new.js")) != 3 {
		t.Error("change history should transfer to the new path")
	}
	if got, err := ws.ReadFile("p1", "new.js"); err != nil || got != "content" {
		t.Errorf("disk content after rename = %q (err %v)", got, err)
	}
	if got := a.ofType(protocol.EventFileRenamed); len(got) != 1 {
		t.Errorf("actor should see fileRenamed, got %d", len(got))
	}

	// Old path is dropped from the store immediately; the preserved content
	// flushes under the new path after the quiet period.
	waitFor(t, func() bool { return len(store.byEvent(persist.EventDeleted)) == 1 })
	time.Sleep(3 * testQuiet)
	flushes := store.byEvent(persist.EventModified)
	if len(flushes) != 1 || flushes[0].path != "new.js" || flushes[0].content != "content" {
		t.Errorf("unexpected flushes after rename: %+v", flushes)
	}
}

// TestTeardownCancelsTimers: leaving the last participant with a flush still
// pending must not produce a durable write.
func TestTeardownCancelsTimers(t *testing.T) {
	m, _, store := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, err := m.ApplyFileChange(a, "p1", "main.js", "unflushed", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}

	m.Leave(a, "p1")

	if m.RoomCount() != 0 {
		t.Error("room should be destroyed when the last participant leaves")
	}

	time.Sleep(3 * testQuiet)
	if got := store.byEvent(persist.EventModified); len(got) != 0 {
		t.Errorf("teardown should cancel pending flushes, got %+v", got)
	}
}

func TestLeaveBroadcastsToRemaining(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}
	join(t, m, a, "p1", "A")
	join(t, m, b, "p1", "B")

	m.Leave(b, "p1")

	if got := a.ofType(protocol.EventParticipantLeft); len(got) != 1 {
		t.Errorf("remaining participant should see participantLeft, got %d", len(got))
	}
	if m.RoomCount() != 1 {
		t.Error("room should survive while participants remain")
	}
}

func TestUpdatePresence(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}
	join(t, m, a, "p1", "A")
	join(t, m, b, "p1", "B")

	file := "main.js"
	err := m.UpdatePresence(a, "p1", protocol.PresencePayload{
		Cursor:     &protocol.Position{Line: 3, Column: 7},
		ActiveFile: &file,
	})
	if err != nil {
		t.Fatalf("UpdatePresence() failed: %v", err)
	}

	updates := b.ofType(protocol.EventPresenceUpdated)
	if len(updates) != 1 {
		t.Fatalf("B should see 1 presenceUpdated, got %d", len(updates))
	}
	var payload protocol.PresenceUpdatedPayload
	if err := json.Unmarshal(updates[0].Data, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.UserID != "A" || payload.Cursor == nil || payload.Cursor.Line != 3 {
		t.Errorf("unexpected presence payload: %+v", payload)
	}
	if got := a.ofType(protocol.EventPresenceUpdated); len(got) != 0 {
		t.Error("sender should not receive their own presence update")
	}

	// A second partial update leaves earlier fields in place.
	if err := m.UpdatePresence(a, "p1", protocol.PresencePayload{}); err != nil {
		t.Fatalf("UpdatePresence() failed: %v", err)
	}
	roster := m.Participants("p1")
	for _, p := range roster {
		if p.UserID == "A" {
			if p.ActiveFile == nil || *p.ActiveFile != "main.js" {
				t.Error("partial update should not clear activeFile")
			}
		}
	}
}

func TestPresenceColorsCycle(t *testing.T) {
	m, _, _ := newTestManager(t)
	conns := []*fakeConn{{key: "a"}, {key: "b"}, {key: "c"}}
	for i, c := range conns {
		join(t, m, c, "p1", string(rune('A'+i)))
	}

	seen := map[string]bool{}
	for _, p := range m.Participants("p1") {
		if p.Color == "" {
			t.Error("participant has no color")
		}
		seen[p.Color] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct colors for first joins, got %d", len(seen))
	}
}

func TestResyncDropsVanishedPaths(t *testing.T) {
	m, ws, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, err := m.ApplyFileChange(a, "p1", "kept.js", "k", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}
	if _, err := m.ApplyFileChange(a, "p1", "gone.js", "g", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}

	// Remove gone.js behind the room's back, as a terminal command would.
	abs, err := ws.Resolve("p1", "gone.js")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if err := os.Remove(abs); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}

	if err := m.Resync("p1"); err != nil {
		t.Fatalf("Resync() failed: %v", err)
	}

	if _, ok := m.FileVersion("p1", "gone.js"); ok {
		t.Error("vanished path should be dropped from room state")
	}
	if _, ok := m.FileVersion("p1", "kept.js"); !ok {
		t.Error("surviving path should stay tracked")
	}
	if got := a.ofType(protocol.EventWorkspaceSync); len(got) != 1 {
		t.Errorf("participants should receive workspaceSync, got %d", len(got))
	}
}

func TestOperationsRequireRoom(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}

	if _, err := m.ApplyFileChange(a, "ghost", "f.js", "x", "A"); err == nil {
		t.Error("ApplyFileChange without a room should fail")
	}
	if err := m.UpdatePresence(a, "ghost", protocol.PresencePayload{}); err == nil {
		t.Error("UpdatePresence without a room should fail")
	}
	if err := m.Resync("ghost"); err == nil {
		t.Error("Resync without a room should fail")
	}
}

func TestLastMutation(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	if _, _, ok := m.LastMutation("p1"); ok {
		t.Error("fresh room should have no recorded mutation")
	}

	if _, err := m.ApplyFileChange(a, "p1", "f.js", "x", "A"); err != nil {
		t.Fatalf("ApplyFileChange() failed: %v", err)
	}

	user, at, ok := m.LastMutation("p1")
	if !ok || user != "A" || at.IsZero() {
		t.Errorf("LastMutation = (%q, %v, %v), want user A", user, at, ok)
	}
}

// TestChangeHistoryCap verifies the history rotates instead of growing
// without bound.
func TestChangeHistoryCap(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := &fakeConn{key: "a"}
	join(t, m, a, "p1", "A")

	for i := 0; i < maxPendingChanges+20; i++ {
		if _, err := m.ApplyFileChange(a, "p1", "f.js", "v", "A"); err != nil {
			t.Fatalf("change %d failed: %v", i, err)
		}
	}

	hist := m.ChangeHistory("p1", "f.js")
	if len(hist) != maxPendingChanges {
		t.Fatalf("history length = %d, want %d", len(hist), maxPendingChanges)
	}
	if hist[len(hist)-1].Version != maxPendingChanges+20 {
		t.Errorf("newest record version = %d, want %d", hist[len(hist)-1].Version, maxPendingChanges+20)
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
