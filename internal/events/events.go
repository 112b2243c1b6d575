// Package events carries content changes between server replicas.
//
// Every replica publishes the changes it applies; a Relay on every replica
// hands changes from the others to its local Broadcaster so sessions
// connected anywhere see every edit.
package events

import (
	"context"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// Event topic constants
const (
	TopicContentUpdated = "livesite.content.updated"
	TopicAdminNotice    = "livesite.admin.notice"

	// TopicAll matches every topic above.
	TopicAll = "livesite.>"
)

// Event types

// ContentUpdated is published once per applied change.
type ContentUpdated struct {
	Replica string             `json:"replica"`
	Event   *model.ChangeEvent `json:"event"`
}

// AdminNotified carries a notice for admin sessions.
type AdminNotified struct {
	Replica string             `json:"replica"`
	Notice  *model.AdminNotice `json:"notice"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Message is one payload received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages on the returned channel. Call the
	// returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
