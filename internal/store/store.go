package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// ContentStore holds the authoritative current value of every content key.
// It never writes history; versioning is the caller's job.
type ContentStore interface {
	// GetItem returns the item or an error wrapping model.ErrNotFound.
	GetItem(ctx context.Context, key string) (*model.ContentItem, error)
	// SetItem validates and upserts an item. An empty Category or
	// Description keeps the stored one.
	SetItem(ctx context.Context, item *model.ContentItem) (*model.ContentItem, error)
	// ListItems returns items ordered by category then key. An empty
	// category lists everything.
	ListItems(ctx context.Context, category string) ([]*model.ContentItem, error)
	// DeleteItem removes a key. Only used to undo the first write of a key.
	DeleteItem(ctx context.Context, key string) error
}

// History is the append-only, per-key version log.
type History interface {
	// AppendVersion assigns the next sequence number for key atomically.
	AppendVersion(ctx context.Context, key, previous, next, actor string, meta model.AppendMeta) (*model.VersionEntry, error)
	// ListVersions returns every entry for key in ascending sequence order.
	ListVersions(ctx context.Context, key string) ([]*model.VersionEntry, error)
	// GetVersion returns one entry or an error wrapping model.ErrNotFound.
	GetVersion(ctx context.Context, key string, seq int64) (*model.VersionEntry, error)
	// VersionsSince returns entries with ChangedAt after since, ordered by
	// ChangedAt, together with a server timestamp. Every entry appended
	// after the call returns has ChangedAt strictly after that timestamp.
	VersionsSince(ctx context.Context, since time.Time) ([]*model.VersionEntry, time.Time, error)
}

// Store is the durable backend: content plus history.
type Store interface {
	ContentStore
	History

	Ping(ctx context.Context) error
	Close() error
}

// BuildFunc derives the item to store from the current one (nil when the
// key is new) and describes the history entry to record for it.
type BuildFunc func(prev *model.ContentItem) (*model.ContentItem, model.AppendMeta, error)

// VersionedWrite is the outcome of WriteVersioned.
type VersionedWrite struct {
	Previous *model.ContentItem // nil for a new key
	Item     *model.ContentItem
	Entry    *model.VersionEntry
}

// VersionedWriter is implemented by stores that can update an item and
// append its history entry as one unit, serialized per key across every
// process sharing the store. Either both writes land or neither does.
type VersionedWriter interface {
	// WriteVersioned reads the current item, calls build with it, stores
	// the result and appends the entry. Errors from build are returned
	// unwrapped. The entry's actor is the built item's UpdatedBy.
	WriteVersioned(ctx context.Context, key string, build BuildFunc) (*VersionedWrite, error)
}
