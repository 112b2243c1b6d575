package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/gorilla/websocket"
)

// Event is one push message received by Watch.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// WatchOptions configures a push subscription.
type WatchOptions struct {
	// Role is "viewer" (default) or "admin".
	Role string
	// SessionID resumes a previous session; empty lets the server pick one.
	SessionID string
	// Since replays history after this watermark instead of a full sync.
	Since time.Time
	// HeartbeatInterval is how often a heartbeat is sent. Default: 30s.
	HeartbeatInterval time.Duration
}

// wsURL maps the base URL onto the push endpoint.
func (c *HTTPClient) wsURL(opts WatchOptions) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"

	q := url.Values{}
	if opts.Role != "" {
		q.Set("role", opts.Role)
	}
	if opts.SessionID != "" {
		q.Set("session_id", opts.SessionID)
	}
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339Nano))
	}
	if c.actor != "" {
		q.Set("actor", c.actor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Watch subscribes to the push channel and calls fn for every message until
// ctx is done, fn returns an error, or the connection fails.
func (c *HTTPClient) Watch(ctx context.Context, opts WatchOptions, fn func(Event) error) error {
	target, err := c.wsURL(opts)
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return fmt.Errorf("connecting to push channel: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading push channel: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Follow polls the changes endpoint every interval, chaining each poll on
// the previous response timestamp, and calls fn for every change. It
// returns the last timestamp reached so a caller can resume from it.
func (c *HTTPClient) Follow(ctx context.Context, since time.Time, interval time.Duration, fn func(*model.ChangeEvent) error) (time.Time, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := c.Changes(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return since, ctx.Err()
			}
			return since, err
		}
		for _, ev := range res.Changes {
			if err := fn(ev); err != nil {
				return since, err
			}
		}
		since = res.Timestamp

		select {
		case <-ctx.Done():
			return since, ctx.Err()
		case <-ticker.C:
		}
	}
}
