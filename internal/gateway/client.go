package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeanvil/anvil/internal/protocol"
)

// sendQueueSize bounds the per-client outbound queue. A client that cannot
// drain broadcasts this far behind starts losing events; the editor recovers
// on the next full-content broadcast or resync.
const sendQueueSize = 64

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// client is one editor connection. It implements room.Conn: Send queues
// without blocking, so the room layer can call it while holding its locks.
type client struct {
	id   string
	conn *websocket.Conn
	srv  *Server

	send chan protocol.Event
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	projectID string
	userID    string
}

func newClient(id string, conn *websocket.Conn, srv *Server) *client {
	return &client{
		id:   id,
		conn: conn,
		srv:  srv,
		send: make(chan protocol.Event, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Key implements room.Conn.
func (c *client) Key() string { return c.id }

// Send implements room.Conn. It never blocks; when the queue is full the
// event is dropped and logged.
func (c *client) Send(ev protocol.Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		c.srv.logger.Printf("Client %s send queue full, dropping %s", c.id, ev.Type)
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}

func (c *client) project() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

func (c *client) session() (projectID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID, c.userID
}

func (c *client) setSession(projectID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectID = projectID
	c.userID = userID
}

// writeLoop drains the send queue onto the wire.
func (c *client) writeLoop() {
	defer c.srv.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.srv.ctx.Done():
			return
		case ev := <-c.send:
			data, err := json.Marshal(ev)
			if err != nil {
				c.srv.logger.Printf("Failed to marshal %s event: %v", ev.Type, err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.srv.removeClient(c)
				return
			}
		}
	}
}

// readLoop decodes inbound envelopes and dispatches them until the
// connection drops.
func (c *client) readLoop() {
	defer c.srv.wg.Done()
	defer c.srv.removeClient(c)

	for {
		_, data, err := c.conn.Read(c.srv.ctx)
		if err != nil {
			return
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.sendError(protocol.EventError, "malformed event envelope")
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch routes one inbound event to the room manager. Failures are
// reported to this connection only.
func (c *client) dispatch(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed join payload")
			return
		}
		if prev := c.project(); prev != "" {
			c.srv.manager.Leave(c, prev)
		}
		if err := c.srv.manager.Join(c, p.ProjectID, p.UserID, p.Username); err != nil {
			c.sendError(ev.Type, err.Error())
			return
		}
		c.setSession(p.ProjectID, p.UserID)

	case protocol.EventLeave:
		if projectID := c.project(); projectID != "" {
			c.srv.manager.Leave(c, projectID)
			c.setSession("", "")
		}

	case protocol.EventPresence:
		projectID, _ := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		var p protocol.PresencePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed presence payload")
			return
		}
		if err := c.srv.manager.UpdatePresence(c, projectID, p); err != nil {
			c.sendError(ev.Type, err.Error())
		}

	case protocol.EventFileChange:
		projectID, userID := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		var p protocol.FileChangePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed fileChange payload")
			return
		}
		version, err := c.srv.manager.ApplyFileChange(c, projectID, p.Path, p.Content, userID)
		if err != nil {
			c.sendError(ev.Type, err.Error())
			return
		}
		c.Send(protocol.MustEvent(protocol.EventChangeAck, protocol.ChangeAckPayload{
			Path:    p.Path,
			Version: version,
		}))

	case protocol.EventFileCreate:
		projectID, userID := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		var p protocol.FileCreatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed fileCreate payload")
			return
		}
		// The fileCreated broadcast reaches the actor too; no separate ack.
		if _, err := c.srv.manager.CreateFile(c, projectID, p.Path, p.IsFolder, userID); err != nil {
			c.sendError(ev.Type, err.Error())
		}

	case protocol.EventFileDelete:
		projectID, userID := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		var p protocol.FileDeletePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed fileDelete payload")
			return
		}
		if err := c.srv.manager.DeleteFile(c, projectID, p.Path, userID); err != nil {
			c.sendError(ev.Type, err.Error())
		}

	case protocol.EventFileRename:
		projectID, userID := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		var p protocol.FileRenamePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.sendError(ev.Type, "malformed fileRename payload")
			return
		}
		if err := c.srv.manager.RenameFile(c, projectID, p.OldPath, p.NewPath, userID); err != nil {
			c.sendError(ev.Type, err.Error())
		}

	case protocol.EventResync:
		projectID, _ := c.session()
		if projectID == "" {
			c.sendError(ev.Type, "not joined to a project")
			return
		}
		if err := c.srv.manager.Resync(projectID); err != nil {
			c.sendError(ev.Type, err.Error())
		}

	default:
		c.sendError(ev.Type, "unknown event type")
	}
}

func (c *client) sendError(op protocol.EventType, msg string) {
	c.Send(protocol.MustEvent(protocol.EventError, protocol.ErrorPayload{
		Op:      op,
		Message: msg,
	}))
}
