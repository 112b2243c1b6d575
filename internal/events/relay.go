package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/livesite/internal/metrics"
	"github.com/alfredjeanlab/livesite/internal/model"
)

// Sink is the local fan-out a Relay feeds.
type Sink interface {
	Publish(ev *model.ChangeEvent)
	NotifyAdmins(n *model.AdminNotice)
}

// Relay forwards changes published by other replicas to the local Sink.
// Messages carrying this replica's id are skipped; they were delivered
// locally when the change was applied.
type Relay struct {
	sub     Subscriber
	sink    Sink
	replica string
}

// NewRelay returns a relay for the given replica id.
func NewRelay(sub Subscriber, sink Sink, replica string) *Relay {
	return &Relay{sub: sub, sink: sink, replica: replica}
}

// Run consumes the bus until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(TopicAll)
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	defer cancel()

	slog.Info("events: relay started", "replica", r.replica)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg Message) {
	switch msg.Topic {
	case TopicContentUpdated:
		var in ContentUpdated
		if err := json.Unmarshal(msg.Data, &in); err != nil || in.Event == nil {
			r.reject(msg, err)
			return
		}
		if in.Replica == r.replica {
			metrics.BusMessages.WithLabelValues("in", "own").Inc()
			return
		}
		metrics.BusMessages.WithLabelValues("in", "relayed").Inc()
		r.sink.Publish(in.Event)
	case TopicAdminNotice:
		var in AdminNotified
		if err := json.Unmarshal(msg.Data, &in); err != nil || in.Notice == nil {
			r.reject(msg, err)
			return
		}
		if in.Replica == r.replica {
			metrics.BusMessages.WithLabelValues("in", "own").Inc()
			return
		}
		metrics.BusMessages.WithLabelValues("in", "relayed").Inc()
		r.sink.NotifyAdmins(in.Notice)
	default:
		metrics.BusMessages.WithLabelValues("in", "ignored").Inc()
	}
}

func (r *Relay) reject(msg Message, err error) {
	metrics.BusMessages.WithLabelValues("in", "malformed").Inc()
	slog.Warn("events: dropping malformed bus message", "topic", msg.Topic, "error", err)
}
