package events

import "context"

// NoopPublisher drops every event. A single replica runs with it when no
// NATS URL is configured.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
