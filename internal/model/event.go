package model

import "time"

// ChangeEvent is the transient notification describing a single applied change.
// It is produced once per successful write and is also synthesized from the
// Store for full syncs and from the History for poll responses.
type ChangeEvent struct {
	Key             string    `json:"key"`
	Value           string    `json:"value"`
	ValueType       ValueType `json:"value_type"`
	Category        string    `json:"category,omitempty"`
	Sequence        int64     `json:"sequence,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	OriginSessionID string    `json:"origin_session_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventFromEntry maps a history entry to the event a poller receives.
func EventFromEntry(e *VersionEntry) *ChangeEvent {
	return &ChangeEvent{
		Key:       e.Key,
		Value:     e.NewValue,
		ValueType: e.ValueType,
		Sequence:  e.Sequence,
		Actor:     e.ChangedBy,
		Timestamp: e.ChangedAt,
	}
}

// EventFromItem synthesizes an event carrying an item's current value.
func EventFromItem(c *ContentItem) *ChangeEvent {
	return &ChangeEvent{
		Key:       c.Key,
		Value:     c.Value,
		ValueType: c.ValueType,
		Category:  c.Category,
		Actor:     c.UpdatedBy,
		Timestamp: c.UpdatedAt,
	}
}
