// Package server exposes the sync engine over HTTP (REST, WebSocket, SSE)
// and gRPC health checking.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/gorilla/websocket"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// AuthToken guards admin routes and admin push sessions. Empty disables auth.
	AuthToken string
	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty allows any.
	AllowedOrigins []string
}

// Server serves the content API, the poll endpoint and the push channels.
type Server struct {
	coord     *syncer.Coordinator
	hub       *broadcast.Hub
	pinger    Pinger
	authToken string
	origins   map[string]bool
	upgrader  websocket.Upgrader
}

// New returns a Server. pinger may be nil.
func New(coord *syncer.Coordinator, hub *broadcast.Hub, pinger Pinger, opts Options) *Server {
	s := &Server{
		coord:     coord,
		hub:       hub,
		pinger:    pinger,
		authToken: opts.AuthToken,
	}
	if len(opts.AllowedOrigins) > 0 {
		s.origins = make(map[string]bool, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			s.origins[o] = true
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.origins == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || s.origins[origin]
}

func (s *Server) ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}
