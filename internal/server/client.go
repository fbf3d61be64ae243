package server

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/session"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// maxFrameBytes bounds a single websocket frame; audio chunks from a
	// browser MediaRecorder are well under this.
	maxFrameBytes = 1 << 20
)

func sessionRoom(code string) string { return session.SessionRoom(code) }

func groupRoom(code string, n int) string { return session.GroupRoom(code, n) }

// Client is one websocket connection: a student contributing audio to a
// group, or the admin console watching a session.
type Client struct {
	id      string
	joinSeq uint64

	joined bool
	admin  bool
	code   string
	group  int

	conn *websocket.Conn
	send chan WSMessage
	deps *Deps

	warnedDrop bool
}

func newClient(conn *websocket.Conn, deps *Deps) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan WSMessage, 64),
		deps: deps,
	}
}

func (c *Client) roomKeys() []string {
	if !c.joined {
		return nil
	}
	if c.admin {
		return []string{sessionRoom(c.code)}
	}
	return []string{sessionRoom(c.code), groupRoom(c.code, c.group)}
}

// sendEvent queues a control frame for this client only.
func (c *Client) sendEvent(event string, payload any) {
	msg, err := newMessage(event, payload)
	if err != nil {
		log.Printf("event marshal error: event=%s err=%v", event, err)
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(message string) {
	c.sendEvent("error", ErrorEvent{Message: message})
}

func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msgType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("malformed message")
				continue
			}
			c.handleControl(msg)
		}
	}
}

func (c *Client) handleControl(msg WSMessage) {
	switch msg.Event {
	case "join":
		c.handleJoin(msg.Data, false)
	case "admin_join":
		c.handleJoin(msg.Data, true)
	default:
		// unknown events are ignored, matching browser clients that may
		// be a version ahead
	}
}

func (c *Client) handleJoin(data json.RawMessage, admin bool) {
	if c.joined {
		c.sendError("already joined")
		return
	}

	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Code == "" {
		c.sendError("join requires a session code")
		return
	}
	if !admin && req.Group < 1 {
		c.sendError("join requires a group number")
		return
	}

	state, err := c.deps.Sessions.GetOrRestore(req.Code)
	if errors.Is(err, session.ErrSessionNotFound) {
		c.sendError("session not found")
		return
	}
	if err != nil {
		log.Printf("join: restore session %s: %v", req.Code, err)
		c.sendError("session lookup failed")
		return
	}

	if !admin {
		// Joining creates the group row if this is its first student, so
		// a later tick or API lookup always finds it.
		if _, err := c.deps.Store.GetOrCreateGroup(state.ID, req.Group, uuid.NewString()); err != nil {
			log.Printf("join: resolve group %s/%d: %v", req.Code, req.Group, err)
			c.sendError("group lookup failed")
			return
		}
	}

	c.joined = true
	c.admin = admin
	c.code = req.Code
	c.group = req.Group
	c.deps.Hub.Add(c)

	status := "waiting"
	if state.Active {
		status = "recording"
	}
	c.sendEvent("joined", JoinedEvent{Code: req.Code, Group: req.Group, Status: status})

	if !admin {
		c.deps.Hub.PublishExcept(sessionRoom(req.Code), c.id,
			"student_joined", StudentPresenceEvent{Group: req.Group})
	}
}

func (c *Client) handleAudio(chunk []byte) {
	if !c.joined || c.admin {
		return
	}
	if !c.deps.Audio.Ingest(c.id, chunk) && !c.warnedDrop {
		c.warnedDrop = true
		log.Printf("audio buffer full, dropping chunks: code=%s group=%d", c.code, c.group)
	}
}

// disconnect is the implicit leave: membership and buffered audio go away,
// and the session room gets a best-effort departure notice.
func (c *Client) disconnect() {
	if c.joined && !c.admin {
		c.deps.Hub.PublishExcept(sessionRoom(c.code), c.id,
			"student_left", StudentPresenceEvent{Group: c.group})
	}
	c.deps.Hub.Remove(c)
	c.deps.Audio.Remove(c.id)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
