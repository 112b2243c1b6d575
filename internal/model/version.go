package model

import "time"

// Action records why a VersionEntry was written.
type Action string

const (
	ActionSet      Action = "set"
	ActionRollback Action = "rollback"
)

// VersionEntry is one immutable historical record of a change to a ContentItem.
// Sequence numbers start at 1 and are gapless per key.
type VersionEntry struct {
	Key           string    `json:"key"`
	Sequence      int64     `json:"sequence_number"`
	PreviousValue string    `json:"previous_value"`
	NewValue      string    `json:"new_value"`
	ValueType     ValueType `json:"value_type"`
	Action        Action    `json:"action"`
	RollbackOf    int64     `json:"rollback_of,omitempty"`
	ChangedBy     string    `json:"changed_by"`
	ChangedAt     time.Time `json:"changed_at"`
}

// AppendMeta carries the optional attributes of a history append.
type AppendMeta struct {
	ValueType  ValueType
	Action     Action
	RollbackOf int64
}
