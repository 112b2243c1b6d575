package model

import "time"

// Admin notice kinds.
const (
	NoticeContentChanged = "content_changed"
	NoticeRollback       = "rollback"
	NoticeAdminJoined    = "admin_joined"
	NoticePreviewRefresh = "preview_refresh"
)

// AdminNotice is sent only to admin sessions so editors can see who changed
// what. Viewers never receive it.
type AdminNotice struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key,omitempty"`
	Value     string    `json:"value,omitempty"`
	Sequence  int64     `json:"sequence,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
