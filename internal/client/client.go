// Package client talks to a livesite server over its HTTP/JSON API and
// push channel. It backs the sitectl commands.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
)

// ContentClient is the interface sitectl commands use to reach the server.
type ContentClient interface {
	// Content
	ListContent(ctx context.Context, category string) ([]*model.ContentItem, error)
	GetContent(ctx context.Context, key string) (*model.ContentItem, error)
	SetContent(ctx context.Context, ch syncer.Change) (*model.ChangeEvent, error)
	ApplyBatch(ctx context.Context, changes []syncer.Change) (*BatchResult, error)

	// History
	History(ctx context.Context, key string) ([]*model.VersionEntry, error)
	Rollback(ctx context.Context, key string, seq int64) (*model.ChangeEvent, error)

	// Sync
	Changes(ctx context.Context, since time.Time) (*syncer.PollResult, error)
	RealtimeStatus(ctx context.Context) (*broadcast.Stats, error)
	Sessions(ctx context.Context) ([]broadcast.Info, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// BatchResult is the response from ApplyBatch.
type BatchResult struct {
	Results   []syncer.Result `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}
