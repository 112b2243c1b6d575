// Package memory implements store.Store in process memory. It backs the
// server when no database is configured and is the reference backend in tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/store"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

// Store keeps items and history in maps keyed by content key. Locking is
// per key; the only shared lock is the poll gate, which appenders take in
// read mode so they never block one another.
type Store struct {
	items   sync.Map // key -> *model.ContentItem (never mutated after Store)
	history sync.Map // key -> *keyLog

	// gate is held shared by appenders and exclusively by VersionsSince
	// while it reads the clock.
	gate  sync.RWMutex
	clock clock

	closed atomic.Bool
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.VersionedWriter = (*Store)(nil)
)

type keyLog struct {
	// write serializes WriteVersioned calls for the key. mu guards entries.
	write   sync.Mutex
	mu      sync.Mutex
	entries []*model.VersionEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) GetItem(_ context.Context, key string) (*model.ContentItem, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := s.items.Load(key)
	if !ok {
		return nil, model.NotFoundf("content %q", key)
	}
	return v.(*model.ContentItem).Clone(), nil
}

func (s *Store) SetItem(_ context.Context, item *model.ContentItem) (*model.ContentItem, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := model.ValidateItem(item); err != nil {
		return nil, err
	}
	next := s.merge(item)
	s.items.Store(next.Key, next)
	return next.Clone(), nil
}

// merge returns a copy of item with an empty Category or Description
// filled in from the stored item.
func (s *Store) merge(item *model.ContentItem) *model.ContentItem {
	next := item.Clone()
	if prev, ok := s.items.Load(item.Key); ok {
		p := prev.(*model.ContentItem)
		if next.Category == "" {
			next.Category = p.Category
		}
		if next.Description == "" {
			next.Description = p.Description
		}
	}
	if next.Category == "" {
		next.Category = model.CategoryGeneral
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	return next
}

func (s *Store) ListItems(_ context.Context, category string) ([]*model.ContentItem, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []*model.ContentItem
	s.items.Range(func(_, v any) bool {
		c := v.(*model.ContentItem)
		if category == "" || c.Category == category {
			out = append(out, c.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *Store) DeleteItem(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.items.Delete(key)
	return nil
}

func (s *Store) log(key string) *keyLog {
	v, _ := s.history.LoadOrStore(key, &keyLog{})
	return v.(*keyLog)
}

func (s *Store) AppendVersion(_ context.Context, key, previous, next, actor string, meta model.AppendMeta) (*model.VersionEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.appendEntry(key, previous, next, actor, meta), nil
}

// WriteVersioned holds the key's writer lock across the read, the item
// update and the append. Nothing can fail once build has succeeded, so the
// item and its entry always land together.
func (s *Store) WriteVersioned(_ context.Context, key string, build store.BuildFunc) (*store.VersionedWrite, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	l := s.log(key)
	l.write.Lock()
	defer l.write.Unlock()

	var prev *model.ContentItem
	if v, ok := s.items.Load(key); ok {
		prev = v.(*model.ContentItem).Clone()
	}
	item, meta, err := build(prev)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateItem(item); err != nil {
		return nil, err
	}

	saved := s.merge(item)
	s.items.Store(key, saved)
	previous := ""
	if prev != nil {
		previous = prev.Value
	}
	entry := s.appendEntry(key, previous, saved.Value, item.UpdatedBy, meta)
	return &store.VersionedWrite{Previous: prev, Item: saved.Clone(), Entry: entry}, nil
}

func (s *Store) appendEntry(key, previous, next, actor string, meta model.AppendMeta) *model.VersionEntry {
	action := meta.Action
	if action == "" {
		action = model.ActionSet
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	l := s.log(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &model.VersionEntry{
		Key:           key,
		Sequence:      int64(len(l.entries)) + 1,
		PreviousValue: previous,
		NewValue:      next,
		ValueType:     meta.ValueType,
		Action:        action,
		RollbackOf:    meta.RollbackOf,
		ChangedBy:     actor,
		ChangedAt:     s.clock.now(),
	}
	l.entries = append(l.entries, e)
	cp := *e
	return &cp
}

func (s *Store) ListVersions(_ context.Context, key string) ([]*model.VersionEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := s.history.Load(key)
	if !ok {
		return nil, nil
	}
	l := v.(*keyLog)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.VersionEntry, len(l.entries))
	for i, e := range l.entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) GetVersion(_ context.Context, key string, seq int64) (*model.VersionEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := s.history.Load(key)
	if !ok {
		return nil, model.NotFoundf("version %d of %q", seq, key)
	}
	l := v.(*keyLog)
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 1 || seq > int64(len(l.entries)) {
		return nil, model.NotFoundf("version %d of %q", seq, key)
	}
	cp := *l.entries[seq-1]
	return &cp, nil
}

func (s *Store) VersionsSince(_ context.Context, since time.Time) ([]*model.VersionEntry, time.Time, error) {
	if s.closed.Load() {
		return nil, time.Time{}, ErrClosed
	}
	// Waiting for in-flight appends before reading the clock means every
	// entry stamped at or before now is already in its key log.
	s.gate.Lock()
	now := s.clock.now()
	s.gate.Unlock()

	var out []*model.VersionEntry
	s.history.Range(func(_, v any) bool {
		l := v.(*keyLog)
		l.mu.Lock()
		// Entries within a key are in ChangedAt order.
		i := sort.Search(len(l.entries), func(i int) bool {
			return l.entries[i].ChangedAt.After(since)
		})
		for _, e := range l.entries[i:] {
			if e.ChangedAt.After(now) {
				break
			}
			cp := *e
			out = append(out, &cp)
		}
		l.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out, now, nil
}

func (s *Store) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Data is discarded with the process.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// clock hands out strictly increasing UTC timestamps.
type clock struct {
	last atomic.Int64
}

func (c *clock) now() time.Time {
	for {
		last := c.last.Load()
		n := time.Now().UnixNano()
		if n <= last {
			n = last + 1
		}
		if c.last.CompareAndSwap(last, n) {
			return time.Unix(0, n).UTC()
		}
	}
}
