package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// requestTimeout bounds store work done on behalf of one client message.
	requestTimeout = 10 * time.Second
)

// Client to server message types.
const (
	clientPing            = "ping"
	clientHeartbeat       = "heartbeat"
	clientRequestFullSync = "request_full_sync"
	clientAck             = "ack"
	clientContentUpdate   = "content_update"
	clientPreviewRefresh  = "preview_refresh"
)

// clientMessage is one frame read from a push client.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ackData struct {
	Timestamp time.Time `json:"timestamp"`
}

type previewData struct {
	Message string `json:"message"`
}

// wsClient pumps messages between one WebSocket connection and its hub session.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	sess *broadcast.Session
}

// pushRequest is the query shared by the push endpoints.
type pushRequest struct {
	role      broadcast.Role
	actor     string
	sessionID string
	since     time.Time
}

// handleWebSocket handles GET /v1/ws. Query parameters: role (viewer or
// admin), session_id to resume an earlier session, since to replay
// history after a watermark instead of receiving a full sync.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	req, ok := s.pushParams(w, r)
	if !ok {
		return
	}
	if err := s.hub.Claimable(req.sessionID, req.role, req.actor); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess, err := s.hub.Register(req.sessionID, req.role, req.actor, broadcast.TransportWebSocket)
	if err != nil {
		// Lost a race for the session id after the upgrade.
		slog.Warn("register websocket session", "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := &wsClient{srv: s, conn: conn, sess: sess}
	go c.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	if err := s.hub.Resume(ctx, sess.ID, req.since); err != nil {
		slog.Warn("initial sync failed", "session_id", sess.ID, "error", err)
	}
	cancel()

	c.readPump()
}

// pushParams parses and authorizes a push request, writing the HTTP
// error itself when it reports false.
func (s *Server) pushParams(w http.ResponseWriter, r *http.Request) (pushRequest, bool) {
	q := r.URL.Query()
	req := pushRequest{
		role:      broadcast.Role(q.Get("role")),
		actor:     q.Get("actor"),
		sessionID: q.Get("session_id"),
	}
	if req.role == "" {
		req.role = broadcast.RoleViewer
	}
	if !req.role.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.role))
		return req, false
	}
	if req.role == broadcast.RoleAdmin {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "admin sessions require a valid token")
			return req, false
		}
		if req.actor == "" {
			req.actor = actorFrom(r)
		}
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.since = since
	return req, true
}

// readPump reads client messages until the connection fails, then leaves the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.srv.hub.Leave(c.sess)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.srv.hub.Touch(c.sess.ID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket closed unexpectedly", "session_id", c.sess.ID, "error", err)
			}
			return
		}
		c.srv.hub.Touch(c.sess.ID)
		c.handle(msg)
	}
}

// writePump drains the session queue to the connection and sends pings.
// It is the only goroutine that writes to conn.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sess.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped or replaced the session.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("websocket write failed", "session_id", c.sess.ID, "error", err)
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

func (c *wsClient) handle(msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	hub := c.srv.hub
	id := c.sess.ID

	switch msg.Type {
	case clientPing, clientHeartbeat:
		c.reply(broadcast.MessagePong, map[string]string{"session_id": id})

	case clientRequestFullSync:
		if _, err := hub.RequestFullSync(ctx, id); err != nil {
			slog.Warn("full sync failed", "session_id", id, "error", err)
		}

	case clientAck:
		var d ackData
		if err := json.Unmarshal(msg.Data, &d); err != nil || d.Timestamp.IsZero() {
			c.replyError("ack requires data.timestamp")
			return
		}
		hub.Ack(id, d.Timestamp)

	case clientContentUpdate:
		if !c.requireAdmin(msg.Type) {
			return
		}
		changes, err := decodeChanges(msg.Data)
		if err != nil {
			c.replyError(err.Error())
			return
		}
		results := c.srv.coord.ApplyBatch(ctx, changes, c.sess.Actor, id)
		c.reply(broadcast.MessageUpdateResult, newBatchResponse(results))

	case clientPreviewRefresh:
		if !c.requireAdmin(msg.Type) {
			return
		}
		var d previewData
		_ = json.Unmarshal(msg.Data, &d)
		if d.Message == "" {
			d.Message = fmt.Sprintf("%s requested a preview refresh", displayName(c.sess.Actor))
		}
		c.srv.coord.Notify(ctx, &model.AdminNotice{
			Kind:      model.NoticePreviewRefresh,
			Actor:     c.sess.Actor,
			SessionID: id,
			Message:   d.Message,
		})

	default:
		c.replyError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// decodeChanges accepts either {"updates":[...]} or a single change object.
func decodeChanges(raw json.RawMessage) ([]syncer.Change, error) {
	var batch batchRequest
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("invalid content_update payload: %w", err)
	}
	if len(batch.Updates) > 0 {
		return batch.Updates, nil
	}
	var one syncer.Change
	if err := json.Unmarshal(raw, &one); err != nil || one.Key == "" {
		return nil, fmt.Errorf("content_update requires a key or an updates list")
	}
	return []syncer.Change{one}, nil
}

func (c *wsClient) requireAdmin(typ string) bool {
	if c.sess.Role == broadcast.RoleAdmin {
		return true
	}
	c.replyError(fmt.Sprintf("%s is only allowed for admin sessions", typ))
	return false
}

func (c *wsClient) reply(typ string, data any) {
	if err := c.srv.hub.Reply(c.sess.ID, broadcast.Message{Type: typ, Data: data}); err != nil {
		slog.Debug("reply not delivered", "session_id", c.sess.ID, "type", typ, "error", err)
	}
}

func (c *wsClient) replyError(message string) {
	c.reply(broadcast.MessageError, map[string]string{"error": message})
}

func displayName(actor string) string {
	if actor == "" || actor == defaultActor {
		return "An admin"
	}
	return actor
}
