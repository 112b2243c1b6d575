// Package idgen generates opaque session and replica identifiers backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the identifiers the server hands out.
const (
	SessionPrefix = "ses-"
	ReplicaPrefix = "rep-"
)

// alphabet is URL-safe so ids can travel in query strings unescaped.
const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const length = 12

// SessionID returns a new push-session identifier.
func SessionID() (string, error) {
	return withPrefix(SessionPrefix)
}

// ReplicaID returns a new identifier for this server process, used to
// recognize its own messages on the event bus.
func ReplicaID() (string, error) {
	return withPrefix(ReplicaPrefix)
}

// MustSessionID is SessionID for callers that cannot handle an entropy failure.
func MustSessionID() string {
	id, err := SessionID()
	if err != nil {
		panic(err)
	}
	return id
}

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
