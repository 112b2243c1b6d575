package broadcast

import (
	"sync"
	"time"
)

// Role decides which messages a session receives.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// Transport names the push channel a session is attached through.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

// Session is one live push subscriber. The transport goroutine drains
// Messages until Done is closed.
type Session struct {
	ID          string
	Role        Role
	Actor       string
	Transport   Transport
	ConnectedAt time.Time

	send chan Message
	done chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	lastAck  time.Time
}

// Info is a point-in-time view of a session for the admin roster.
type Info struct {
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Actor       string    `json:"actor,omitempty"`
	Transport   Transport `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastAck     time.Time `json:"last_ack,omitempty"`
	IdleSecs    float64   `json:"idle_secs"`
	Pending     int       `json:"pending"`
}

func newSession(id string, role Role, actor string, transport Transport, buffer int) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		Role:        role,
		Actor:       actor,
		Transport:   transport,
		ConnectedAt: now,
		send:        make(chan Message, buffer),
		done:        make(chan struct{}),
		lastSeen:    now,
	}
}

// Messages returns the queue the transport writes to the client.
func (s *Session) Messages() <-chan Message { return s.send }

// Done is closed when the session is unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastAck returns the session's delivery watermark.
func (s *Session) LastAck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAck
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) ack(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastAck) {
		s.lastAck = t
	}
	s.mu.Unlock()
}

func (s *Session) idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) info(now time.Time) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:   s.ID,
		Role:        s.Role,
		Actor:       s.Actor,
		Transport:   s.Transport,
		ConnectedAt: s.ConnectedAt,
		LastSeenAt:  s.lastSeen,
		LastAck:     s.lastAck,
		IdleSecs:    now.Sub(s.lastSeen).Seconds(),
		Pending:     len(s.send),
	}
}

// enqueue is non-blocking. The caller holds the hub's read lock, so the
// channel cannot be closed underneath it.
func (s *Session) enqueue(m Message) bool {
	select {
	case s.send <- m:
		return true
	default:
		return false
	}
}
