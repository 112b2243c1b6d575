package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// headerActor names the editor on admin writes.
	headerActor = "X-Actor"
	// headerSession identifies the push session an admin write came from,
	// so that session is not echoed its own change.
	headerSession = "X-Session-ID"

	defaultActor = "admin"
	maxBodyBytes = 1 << 20
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// Admin routes require a bearer token when one is configured.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/content", s.handleListContent)
	mux.HandleFunc("GET /v1/content/{key}", s.handleGetContent)
	mux.Handle("PUT /v1/content/{key}", s.admin(s.handleSetContent))
	mux.Handle("POST /v1/content/batch", s.admin(s.handleBatch))
	mux.Handle("GET /v1/history/{key}", s.admin(s.handleHistory))
	mux.Handle("POST /v1/rollback", s.admin(s.handleRollback))
	mux.HandleFunc("GET /v1/changes", s.handleChanges)
	mux.HandleFunc("GET /v1/realtime/status", s.handleRealtimeStatus)
	mux.Handle("GET /v1/sessions", s.admin(s.handleSessions))
	mux.HandleFunc("POST /v1/sessions/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return AuthMiddleware(s.authToken, h)
}

// envelope is the body of every JSON response.
type envelope struct {
	Success bool               `json:"success"`
	Data    any                `json:"data"`
	Error   string             `json:"error,omitempty"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Data:  map[string]string{"status": "degraded"},
			Error: err.Error(),
		})
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Stats().Total,
	})
}

// handleListContent handles GET /v1/content.
func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	items, err := s.coord.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

// handleGetContent handles GET /v1/content/{key}.
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	item, err := s.coord.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

// handleSetContent handles PUT /v1/content/{key}.
func (s *Server) handleSetContent(w http.ResponseWriter, r *http.Request) {
	var ch syncer.Change
	if !decodeBody(w, r, &ch) {
		return
	}
	ch.Key = r.PathValue("key")

	ev, err := s.coord.ApplyChange(r.Context(), ch, actorFrom(r), r.Header.Get(headerSession))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, ev)
}

type batchRequest struct {
	Updates []syncer.Change `json:"updates"`
}

type batchResponse struct {
	Results   []syncer.Result `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

func newBatchResponse(results []syncer.Result) batchResponse {
	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// handleBatch handles POST /v1/content/batch. Items are applied
// independently; the response reports each one.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "updates is required")
		return
	}

	resp := newBatchResponse(s.coord.ApplyBatch(r.Context(), req.Updates, actorFrom(r), r.Header.Get(headerSession)))
	writeJSON(w, http.StatusOK, envelope{Success: resp.Failed == 0, Data: resp})
}

// handleHistory handles GET /v1/history/{key}.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.coord.History(r.Context(), r.PathValue("key"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

type rollbackRequest struct {
	Key      string `json:"key"`
	Sequence int64  `json:"sequence"`
}

// handleRollback handles POST /v1/rollback.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Sequence <= 0 {
		writeError(w, http.StatusBadRequest, "sequence must be a positive integer")
		return
	}

	ev, err := s.coord.Rollback(r.Context(), req.Key, req.Sequence, actorFrom(r), r.Header.Get(headerSession))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, ev)
}

// handleChanges handles GET /v1/changes, the poll endpoint.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.coord.Poll(r.Context(), since)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleRealtimeStatus handles GET /v1/realtime/status.
func (s *Server) handleRealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.hub.Stats())
}

// handleSessions handles GET /v1/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.hub.Sessions())
}

// handleHeartbeat handles POST /v1/sessions/{id}/heartbeat. An optional
// ack query parameter advances the session watermark. Admin sessions need
// the admin token.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.hub.Session(id); ok && sess.Role == broadcast.RoleAdmin && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "admin sessions require a valid token")
		return
	}
	ack, err := parseSince(r.URL.Query().Get("ack"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ok bool
	if ack.IsZero() {
		ok = s.hub.Touch(id)
	} else {
		ok = s.hub.Ack(id, ack)
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s is not connected", id))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"session_id": id})
}

// parseSince accepts RFC 3339 timestamps and unix seconds with an optional
// fraction. An empty string is the zero time.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	// An unescaped '+' in a query string arrives as a space.
	if t, err := time.Parse(time.RFC3339Nano, strings.ReplaceAll(raw, " ", "+")); err == nil {
		return t.UTC(), nil
	}
	t, ok := parseUnix(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid since %q: want RFC 3339 or unix seconds", raw)
	}
	return t, nil
}

// parseUnix reads "seconds[.fraction]" exactly, keeping up to nanosecond
// precision. Digits past the ninth are truncated.
func parseUnix(raw string) (time.Time, bool) {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" || !allDigits(whole) || (hasFrac && (frac == "" || !allDigits(frac))) {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if hasFrac {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos).UTC(), true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func actorFrom(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(headerActor)); a != "" {
		return a
	}
	return defaultActor
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFailure maps a domain error to its HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	var pe *model.PersistenceError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, envelope{Error: ve.Error(), Fields: ve.Errors})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &pe):
		slog.Error("content write not persisted", "key", pe.Key, "compensated", pe.Compensated, "error", pe.Err)
		writeError(w, http.StatusInternalServerError, pe.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: message})
}
