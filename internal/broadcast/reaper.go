package broadcast

import (
	"log/slog"
	"time"

	"github.com/alfredjeanlab/livesite/internal/metrics"
)

// StartReaper launches a background goroutine that unregisters sessions
// with no heartbeat within HeartbeatTimeout. Call Stop to shut it down.
func (h *Hub) StartReaper() {
	if h.reaperStop != nil {
		return
	}
	h.reaperStop = make(chan struct{})
	h.reaperDone = make(chan struct{})

	go h.reapLoop(h.reaperStop, h.reaperDone)
	slog.Info("broadcast: reaper started",
		"heartbeat_timeout", h.cfg.HeartbeatTimeout,
		"sweep_interval", h.cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (h *Hub) Stop() {
	if h.reaperStop != nil {
		close(h.reaperStop)
		<-h.reaperDone
		h.reaperStop = nil
		h.reaperDone = nil
	}
}

func (h *Hub) reapLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sweep(time.Now())
		}
	}
}

// sweep unregisters every session idle for longer than the heartbeat timeout
// and returns how many it removed.
func (h *Hub) sweep(now time.Time) int {
	var stale []*Session

	h.mu.RLock()
	for _, s := range h.sessions {
		if s.idle(now) > h.cfg.HeartbeatTimeout {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		slog.Info("broadcast: reaper dropped silent session",
			"session_id", s.ID,
			"role", s.Role,
			"timeout", h.cfg.HeartbeatTimeout)
		h.Leave(s)
		metrics.SessionsReaped.Inc()
	}
	return len(stale)
}
