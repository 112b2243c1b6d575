package broadcast

import (
	"fmt"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// Message types pushed to sessions.
const (
	MessageContentUpdate         = "content_update"
	MessageFullSync              = "full_sync"
	MessageAdminNotification     = "admin_notification"
	MessageConnectionEstablished = "connection_established"
	MessagePong                  = "pong"
	MessageUpdateResult          = "update_result"
	MessageError                 = "error"
)

// Message is one frame on the push channel.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FullSync is the payload of a full_sync message.
type FullSync struct {
	Changes []*model.ChangeEvent `json:"changes"`
	// Reason is "requested", "connect" or "catch_up_overflow".
	Reason string `json:"reason"`
}

// Welcome is the payload of a connection_established message.
type Welcome struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
}

// DeliveryFailure reports a push that could not be enqueued for a session.
// It never leaves the Broadcaster; the session is dropped instead.
type DeliveryFailure struct {
	SessionID string
	Type      string
	Reason    string
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver %s to session %s: %s", e.Type, e.SessionID, e.Reason)
}
