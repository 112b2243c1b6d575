// Package broadcast owns the live session registry and fans ChangeEvents out
// to connected push sessions.
//
// Delivery is fire-and-forget: every session has a bounded queue, and a
// session whose queue is full is dropped rather than allowed to slow down
// the writer or other sessions. Dropped sessions recover through the poll
// endpoint or a full sync on reconnect.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/livesite/internal/idgen"
	"github.com/alfredjeanlab/livesite/internal/metrics"
	"github.com/alfredjeanlab/livesite/internal/model"
)

// ErrUnknownSession is returned for operations on a session id that is not registered.
var ErrUnknownSession = errors.New("unknown session")

// ErrSessionConflict is returned when a connection claims a session id held
// by a session with a different role or actor.
var ErrSessionConflict = errors.New("session id is held by another client")

// ErrNoSnapshot is returned for a full sync before UseSnapshot was called.
var ErrNoSnapshot = errors.New("no snapshot source")

// Source supplies the history replayed to reconnecting sessions.
type Source interface {
	VersionsSince(ctx context.Context, since time.Time) ([]*model.VersionEntry, time.Time, error)
}

// Config tunes the hub.
type Config struct {
	// HeartbeatTimeout is how long a session may stay silent before the
	// reaper unregisters it. Default: 90 seconds.
	HeartbeatTimeout time.Duration

	// SweepInterval is how often the reaper scans for silent sessions.
	// Default: 30 seconds.
	SweepInterval time.Duration

	// SendBuffer is the per-session queue length. Default: 256.
	SendBuffer int

	// EchoToOrigin delivers an admin's own edit back to the session that made it.
	EchoToOrigin bool
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = 90 * time.Second
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 30 * time.Second
	}
	if out.SendBuffer <= 0 {
		out.SendBuffer = 256
	}
	return out
}

// Stats summarizes the registry.
type Stats struct {
	Total        int      `json:"total_connections"`
	Admins       int      `json:"admin_connections"`
	Viewers      int      `json:"viewer_connections"`
	ActiveAdmins []string `json:"active_admins"`
}

// Hub is the Broadcaster and session registry.
type Hub struct {
	cfg    Config
	source Source

	mu       sync.RWMutex
	sessions map[string]*Session
	snapshot func(context.Context) ([]*model.ChangeEvent, error)

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewHub creates a hub replaying history from src. Full syncs need a
// snapshot source; see UseSnapshot.
func NewHub(src Source, cfg *Config) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		source:   src,
		sessions: make(map[string]*Session),
	}
}

// Claimable reports whether a connection for role and actor may take id.
// A free id is always claimable; a held one only by the same role and
// actor, which is how a client resumes its own session.
func (h *Hub) Claimable(id string, role Role, actor string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return claimable(h.sessions[id], role, actor)
}

func claimable(cur *Session, role Role, actor string) error {
	if cur == nil || (cur.Role == role && cur.Actor == actor) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSessionConflict, cur.ID)
}

// Register adds a session. An empty id gets a generated one. An id that is
// already registered replaces the old session, which is closed, but only
// when role and actor match; otherwise ErrSessionConflict is returned and
// the holder is left alone.
func (h *Hub) Register(id string, role Role, actor string, transport Transport) (*Session, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if id == "" {
		var err error
		if id, err = idgen.SessionID(); err != nil {
			return nil, err
		}
	}

	s := newSession(id, role, actor, transport, h.cfg.SendBuffer)

	h.mu.Lock()
	old := h.sessions[id]
	if err := claimable(old, role, actor); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if old != nil {
		h.closeLocked(old)
	}
	h.sessions[id] = s
	s.enqueue(Message{
		Type:      MessageConnectionEstablished,
		Data:      Welcome{SessionID: id, Role: role},
		Timestamp: time.Now().UTC(),
	})
	h.mu.Unlock()

	if old != nil {
		metrics.SessionsActive.WithLabelValues(string(old.Role)).Dec()
	}
	metrics.SessionsActive.WithLabelValues(string(role)).Inc()
	slog.Info("broadcast: session registered", "session_id", id, "role", role, "transport", transport)

	if role == RoleAdmin {
		h.NotifyAdmins(&model.AdminNotice{
			Kind:      model.NoticeAdminJoined,
			Actor:     actor,
			SessionID: id,
			Message:   fmt.Sprintf("%s joined the admin room", displayActor(actor)),
			Timestamp: time.Now().UTC(),
		})
	}
	return s, nil
}

// Unregister removes a session and closes its queue. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		h.closeLocked(s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if ok {
		metrics.SessionsActive.WithLabelValues(string(s.Role)).Dec()
		slog.Info("broadcast: session unregistered", "session_id", id, "role", s.Role)
	}
}

// Leave removes s only if it is still the registered session for its id.
// Transports call it when their connection ends so that a reconnect which
// already replaced the session is left alone.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	cur, ok := h.sessions[s.ID]
	if ok && cur == s {
		h.closeLocked(s)
		delete(h.sessions, s.ID)
	}
	h.mu.Unlock()
	if ok && cur == s {
		metrics.SessionsActive.WithLabelValues(string(s.Role)).Dec()
	}
}

func (h *Hub) closeLocked(s *Session) {
	close(s.done)
	close(s.send)
}

// Publish enqueues a content update for every session except the origin.
// It never blocks; sessions that cannot take the message are dropped.
func (h *Hub) Publish(ev *model.ChangeEvent) {
	msg := Message{Type: MessageContentUpdate, Data: ev, Timestamp: time.Now().UTC()}
	h.fanOut(msg, func(s *Session) bool {
		if !h.cfg.EchoToOrigin && ev.OriginSessionID != "" && s.ID == ev.OriginSessionID {
			metrics.PushDeliveries.WithLabelValues(msg.Type, metrics.DeliverySuppressed).Inc()
			return false
		}
		return true
	})
}

// NotifyAdmins enqueues an admin_notification for admin sessions only.
func (h *Hub) NotifyAdmins(n *model.AdminNotice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	msg := Message{Type: MessageAdminNotification, Data: n, Timestamp: n.Timestamp}
	h.fanOut(msg, func(s *Session) bool {
		return s.Role == RoleAdmin
	})
}

func (h *Hub) fanOut(msg Message, include func(*Session) bool) {
	var failed []*Session

	h.mu.RLock()
	for _, s := range h.sessions {
		if !include(s) {
			continue
		}
		if s.enqueue(msg) {
			metrics.PushDeliveries.WithLabelValues(msg.Type, metrics.DeliverySent).Inc()
			continue
		}
		failed = append(failed, s)
	}
	h.mu.RUnlock()

	for _, s := range failed {
		h.drop(s, &DeliveryFailure{SessionID: s.ID, Type: msg.Type, Reason: "send buffer full"})
	}
}

func (h *Hub) drop(s *Session, err *DeliveryFailure) {
	metrics.PushDeliveries.WithLabelValues(err.Type, metrics.DeliveryFailed).Inc()
	slog.Warn("broadcast: dropping session", "session_id", s.ID, "role", s.Role, "error", err)
	h.Leave(s)
}

// send enqueues one message to a single session.
func (h *Hub) send(id string, msg Message) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	delivered := ok && s.enqueue(msg)
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if !delivered {
		failure := &DeliveryFailure{SessionID: id, Type: msg.Type, Reason: "send buffer full"}
		h.drop(s, failure)
		return failure
	}
	metrics.PushDeliveries.WithLabelValues(msg.Type, metrics.DeliverySent).Inc()
	return nil
}

// Reply enqueues a message (such as a pong) to one session.
func (h *Hub) Reply(id string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return h.send(id, msg)
}

// UseSnapshot sets the function that renders full syncs. The write
// coordinator registers itself here when it is created.
func (h *Hub) UseSnapshot(fn func(context.Context) ([]*model.ChangeEvent, error)) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Snapshot returns the current content as synthetic change events.
func (h *Hub) Snapshot(ctx context.Context) ([]*model.ChangeEvent, error) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil, ErrNoSnapshot
	}
	return fn(ctx)
}

// RequestFullSync builds a snapshot and pushes it to the session as a
// full_sync message. The snapshot is returned either way.
func (h *Hub) RequestFullSync(ctx context.Context, id string) ([]*model.ChangeEvent, error) {
	events, err := h.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return events, h.pushFullSync(id, events, "requested")
}

func (h *Hub) pushFullSync(id string, events []*model.ChangeEvent, reason string) error {
	return h.send(id, Message{
		Type:      MessageFullSync,
		Data:      FullSync{Changes: events, Reason: reason},
		Timestamp: time.Now().UTC(),
	})
}

// Resume brings a newly registered session up to date. A zero since
// means the client has no state, so it gets a full sync; otherwise
// history after since is replayed.
func (h *Hub) Resume(ctx context.Context, id string, since time.Time) error {
	if since.IsZero() {
		events, err := h.Snapshot(ctx)
		if err != nil {
			return err
		}
		return h.pushFullSync(id, events, "connect")
	}
	_, err := h.CatchUp(ctx, id, since)
	return err
}

// CatchUp replays history after since to a reconnecting session and
// returns the number of events delivered. When the backlog would not fit
// in the session queue a full sync is sent instead.
func (h *Hub) CatchUp(ctx context.Context, id string, since time.Time) (int, error) {
	entries, now, err := h.source.VersionsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("catch up %s: %w", id, err)
	}

	if len(entries) > h.cfg.SendBuffer/2 {
		events, err := h.Snapshot(ctx)
		if err != nil {
			return 0, err
		}
		if err := h.pushFullSync(id, events, "catch_up_overflow"); err != nil {
			return 0, err
		}
		h.Ack(id, now)
		return len(events), nil
	}

	for _, e := range entries {
		msg := Message{Type: MessageContentUpdate, Data: model.EventFromEntry(e), Timestamp: time.Now().UTC()}
		if err := h.send(id, msg); err != nil {
			return 0, err
		}
	}
	h.Ack(id, now)
	return len(entries), nil
}

// Touch records a heartbeat. It reports whether the session is registered.
func (h *Hub) Touch(id string) bool {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		s.touch(time.Now())
	}
	return ok
}

// Ack advances the session's delivery watermark and counts as a heartbeat.
func (h *Hub) Ack(id string, t time.Time) bool {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		s.ack(t)
		s.touch(time.Now())
	}
	return ok
}

// Session returns the registered session for id.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns a roster sorted by connection time.
func (h *Hub) Sessions() []Info {
	now := time.Now()
	h.mu.RLock()
	out := make([]Info, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info(now))
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Stats returns connection counts and the names of connected admins.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{Total: len(h.sessions), ActiveAdmins: []string{}}
	seen := make(map[string]bool)
	for _, s := range h.sessions {
		switch s.Role {
		case RoleAdmin:
			st.Admins++
			name := displayActor(s.Actor)
			if !seen[name] {
				seen[name] = true
				st.ActiveAdmins = append(st.ActiveAdmins, name)
			}
		case RoleViewer:
			st.Viewers++
		}
	}
	sort.Strings(st.ActiveAdmins)
	return st
}

// Close unregisters every session and stops the reaper.
func (h *Hub) Close() {
	h.Stop()
	h.mu.Lock()
	for id, s := range h.sessions {
		h.closeLocked(s)
		delete(h.sessions, id)
		metrics.SessionsActive.WithLabelValues(string(s.Role)).Dec()
	}
	h.mu.Unlock()
}

func displayActor(actor string) string {
	if actor == "" {
		return "anonymous"
	}
	return actor
}
