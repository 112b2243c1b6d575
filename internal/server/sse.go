package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent proxy timeouts. Each successful keepalive also counts as a
// session heartbeat.
const sseKeepaliveInterval = 15 * time.Second

// handleEventStream handles GET /v1/events/stream, the SSE push channel.
// It takes the same query as /v1/ws. A browser reconnect sends
// Last-Event-ID, which is the timestamp of the last content update seen
// and is used as since.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, ok := s.pushParams(w, r)
	if !ok {
		return
	}
	if req.since.IsZero() {
		if last := r.Header.Get("Last-Event-ID"); last != "" {
			since, err := parseSince(last)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid Last-Event-ID")
				return
			}
			req.since = since
		}
	}

	sess, err := s.hub.Register(req.sessionID, req.role, req.actor, broadcast.TransportSSE)
	if errors.Is(err, broadcast.ErrSessionConflict) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.hub.Leave(sess)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	if err := s.hub.Resume(rctx, sess.ID, req.since); err != nil {
		slog.Warn("initial sync failed", "session_id", sess.ID, "error", err)
	}
	cancel()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.Messages():
			if !ok {
				// Dropped or replaced by a newer connection.
				return
			}
			if err := writeSSEEvent(w, msg); err != nil {
				slog.Debug("sse write failed", "session_id", sess.ID, "error", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			s.hub.Touch(sess.ID)
		}
	}
}

// writeSSEEvent writes one push message as an SSE event. Content updates
// carry their history timestamp as the event id.
func writeSSEEvent(w http.ResponseWriter, msg broadcast.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	if ev, ok := msg.Data.(*model.ChangeEvent); ok && msg.Type == broadcast.MessageContentUpdate {
		if _, err := fmt.Fprintf(w, "id:%s\n", ev.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", msg.Type, payload)
	return err
}
