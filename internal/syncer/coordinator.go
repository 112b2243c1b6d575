// Package syncer is the single write entry point for site content.
//
// Every change goes validate -> Store -> History -> broadcast. Stores that
// implement store.VersionedWriter apply the Store and History writes as one
// unit, serialized per key across replicas. Other stores are written in two
// steps under this process's key lock; if the History append fails the Store
// is restored before the error is returned.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/livesite/internal/events"
	"github.com/alfredjeanlab/livesite/internal/metrics"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/store"
)

// DefaultPollWindow is how far back a poll without a since timestamp looks.
const DefaultPollWindow = 60 * time.Second

// Broadcaster receives every applied change for local fan-out.
type Broadcaster interface {
	Publish(ev *model.ChangeEvent)
	NotifyAdmins(n *model.AdminNotice)
}

// Change is one requested edit.
type Change struct {
	Key         string          `json:"key"`
	Value       string          `json:"value"`
	ValueType   model.ValueType `json:"value_type,omitempty"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Result reports the outcome of one change in a batch.
type Result struct {
	Key     string             `json:"key"`
	Success bool               `json:"success"`
	Event   *model.ChangeEvent `json:"event,omitempty"`
	Error   string             `json:"error,omitempty"`
	Err     error              `json:"-"`
}

// PollResult is the answer to a changes-since query. Timestamp is the
// since value for the next poll.
type PollResult struct {
	Changes   []*model.ChangeEvent `json:"changes"`
	Timestamp time.Time            `json:"timestamp"`
}

// Config configures a Coordinator.
type Config struct {
	// Replica identifies this process on the event bus.
	Replica string
	// PollWindow is the look-back for polls with no since. Default: 60s.
	PollWindow time.Duration
}

// Coordinator applies content changes and keeps Store and History in step.
type Coordinator struct {
	store      store.Store
	hub        Broadcaster
	bus        events.Publisher
	replica    string
	pollWindow time.Duration
	locks      *keyLocks
}

// New returns a Coordinator. A nil hub or bus disables that fan-out path.
// A hub that serves full syncs is pointed at the Coordinator's Snapshot.
func New(s store.Store, hub Broadcaster, bus events.Publisher, cfg Config) *Coordinator {
	if bus == nil {
		bus = events.NoopPublisher{}
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = DefaultPollWindow
	}
	c := &Coordinator{
		store:      s,
		hub:        hub,
		bus:        bus,
		replica:    cfg.Replica,
		pollWindow: cfg.PollWindow,
		locks:      newKeyLocks(),
	}
	if fs, ok := hub.(fullSyncer); ok {
		fs.UseSnapshot(c.Snapshot)
	}
	return c
}

// fullSyncer is a Broadcaster that serves full syncs from Snapshot.
type fullSyncer interface {
	UseSnapshot(fn func(context.Context) ([]*model.ChangeEvent, error))
}

// ApplyChange validates and applies one change on behalf of actor. origin is
// the session that made the edit and is not echoed the resulting push.
func (c *Coordinator) ApplyChange(ctx context.Context, ch Change, actor, origin string) (*model.ChangeEvent, error) {
	if err := model.ValidateKey(ch.Key); err != nil {
		c.count(model.ActionSet, err)
		return nil, err
	}
	return c.write(ctx, ch.Key, actor, origin, func(prev *model.ContentItem) (*model.ContentItem, model.AppendMeta, error) {
		vt := ch.ValueType
		if vt == "" {
			vt = model.ValueText
			if prev != nil {
				vt = prev.ValueType
			}
		}
		item := &model.ContentItem{
			Key:         ch.Key,
			Value:       ch.Value,
			ValueType:   vt,
			Category:    ch.Category,
			Description: ch.Description,
		}
		return item, model.AppendMeta{ValueType: vt, Action: model.ActionSet}, nil
	})
}

// ApplyBatch applies each change independently. One failing item does not
// stop or undo the others.
func (c *Coordinator) ApplyBatch(ctx context.Context, changes []Change, actor, origin string) []Result {
	results := make([]Result, len(changes))
	for i, ch := range changes {
		ev, err := c.ApplyChange(ctx, ch, actor, origin)
		results[i] = Result{Key: ch.Key, Success: err == nil, Event: ev, Err: err}
		if err != nil {
			results[i].Error = err.Error()
		}
	}
	return results
}

// Rollback makes the value recorded at sequence seq current again. It is a
// forward write: a new history entry is appended and nothing is rewritten.
func (c *Coordinator) Rollback(ctx context.Context, key string, seq int64, actor, origin string) (*model.ChangeEvent, error) {
	return c.write(ctx, key, actor, origin, func(prev *model.ContentItem) (*model.ContentItem, model.AppendMeta, error) {
		target, err := c.store.GetVersion(ctx, key, seq)
		if err != nil {
			return nil, model.AppendMeta{Action: model.ActionRollback}, err
		}
		vt := target.ValueType
		if vt == "" && prev != nil {
			vt = prev.ValueType
		}
		if vt == "" {
			vt = model.ValueText
		}
		item := &model.ContentItem{Key: key, Value: target.NewValue, ValueType: vt}
		return item, model.AppendMeta{ValueType: vt, Action: model.ActionRollback, RollbackOf: seq}, nil
	})
}

func (c *Coordinator) write(ctx context.Context, key, actor, origin string, build store.BuildFunc) (*model.ChangeEvent, error) {
	unlock := c.locks.lock(key)
	defer unlock()

	start := time.Now()
	action := model.ActionSet
	stamped := func(prev *model.ContentItem) (*model.ContentItem, model.AppendMeta, error) {
		item, meta, err := build(prev)
		if meta.Action != "" {
			action = meta.Action
		}
		if err != nil {
			return nil, meta, err
		}
		item.UpdatedAt = time.Now().UTC()
		item.UpdatedBy = actor
		if err := model.ValidateItem(item); err != nil {
			return nil, meta, err
		}
		return item, meta, nil
	}

	var (
		w   *store.VersionedWrite
		err error
	)
	if vw, ok := c.store.(store.VersionedWriter); ok {
		w, err = vw.WriteVersioned(ctx, key, stamped)
	} else {
		w, err = c.writeCompensated(ctx, key, actor, stamped)
	}
	if err != nil {
		c.count(action, err)
		return nil, err
	}
	metrics.ContentWriteDuration.Observe(time.Since(start).Seconds())
	c.count(action, nil)

	previous := ""
	if w.Previous != nil {
		previous = w.Previous.Value
	}
	ev := &model.ChangeEvent{
		Key:             key,
		Value:           w.Item.Value,
		ValueType:       w.Item.ValueType,
		Category:        w.Item.Category,
		Sequence:        w.Entry.Sequence,
		Actor:           actor,
		OriginSessionID: origin,
		Timestamp:       w.Entry.ChangedAt,
	}

	// Still under the key lock so pushes for one key leave in sequence order.
	c.broadcast(ctx, ev, noticeFor(ev, w.Entry, previous))

	slog.Info("content changed",
		"key", key,
		"sequence", w.Entry.Sequence,
		"action", w.Entry.Action,
		"actor", actor)
	return ev, nil
}

// writeCompensated is the write path for stores without VersionedWriter:
// Store first, then History, restoring the Store if the append fails. It is
// only serialized by this process's key locks.
func (c *Coordinator) writeCompensated(ctx context.Context, key, actor string, build store.BuildFunc) (*store.VersionedWrite, error) {
	prev, err := c.store.GetItem(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	item, meta, err := build(prev)
	if err != nil {
		return nil, err
	}
	saved, err := c.store.SetItem(ctx, item)
	if err != nil {
		return nil, err
	}

	previous := ""
	if prev != nil {
		previous = prev.Value
	}
	entry, err := c.store.AppendVersion(ctx, key, previous, saved.Value, actor, meta)
	if err != nil {
		return nil, c.compensate(ctx, key, prev, err)
	}
	return &store.VersionedWrite{Previous: prev, Item: saved, Entry: entry}, nil
}

// compensate restores the Store after a failed History append.
func (c *Coordinator) compensate(ctx context.Context, key string, prev *model.ContentItem, cause error) error {
	var err error
	if prev == nil {
		err = c.store.DeleteItem(ctx, key)
	} else {
		_, err = c.store.SetItem(ctx, prev)
	}
	perr := &model.PersistenceError{Key: key, Compensated: err == nil, Err: cause}
	if err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		slog.Error("store restore failed after history append error",
			"key", key, "append_error", cause, "restore_error", err)
	} else {
		metrics.Compensations.WithLabelValues("restored").Inc()
		slog.Warn("history append failed, store restored", "key", key, "error", cause)
	}
	return perr
}

func noticeFor(ev *model.ChangeEvent, entry *model.VersionEntry, previous string) *model.AdminNotice {
	n := &model.AdminNotice{
		Kind:      model.NoticeContentChanged,
		Key:       ev.Key,
		Value:     ev.Value,
		Sequence:  ev.Sequence,
		Actor:     ev.Actor,
		SessionID: ev.OriginSessionID,
		Timestamp: ev.Timestamp,
		Message:   fmt.Sprintf("%s changed %s from %q to %q", actorName(ev.Actor), ev.Key, previous, ev.Value),
	}
	if entry.Action == model.ActionRollback {
		n.Kind = model.NoticeRollback
		n.Message = fmt.Sprintf("%s rolled %s back to version %d", actorName(ev.Actor), ev.Key, entry.RollbackOf)
	}
	return n
}

func actorName(actor string) string {
	if actor == "" {
		return "someone"
	}
	return actor
}

// broadcast hands the change to local sessions and to other replicas.
// Failures are logged; the write has already succeeded.
func (c *Coordinator) broadcast(ctx context.Context, ev *model.ChangeEvent, notice *model.AdminNotice) {
	if c.hub != nil {
		c.hub.Publish(ev)
		c.hub.NotifyAdmins(notice)
	}
	c.publishBus(ctx, events.TopicContentUpdated, events.ContentUpdated{Replica: c.replica, Event: ev})
	c.publishBus(ctx, events.TopicAdminNotice, events.AdminNotified{Replica: c.replica, Notice: notice})
}

// Notify sends an admin-only notice (such as a preview refresh) to every replica.
func (c *Coordinator) Notify(ctx context.Context, n *model.AdminNotice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if c.hub != nil {
		c.hub.NotifyAdmins(n)
	}
	c.publishBus(ctx, events.TopicAdminNotice, events.AdminNotified{Replica: c.replica, Notice: n})
}

func (c *Coordinator) publishBus(ctx context.Context, topic string, event any) {
	if err := c.bus.Publish(ctx, topic, event); err != nil {
		metrics.BusMessages.WithLabelValues("out", "error").Inc()
		slog.Warn("failed to publish event", "topic", topic, "error", err)
		return
	}
	metrics.BusMessages.WithLabelValues("out", "ok").Inc()
}

func (c *Coordinator) count(action model.Action, err error) {
	if action == "" {
		action = model.ActionSet
	}
	metrics.ContentWrites.WithLabelValues(string(action), resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var ve *model.ValidationError
	var pe *model.PersistenceError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &ve):
		return metrics.ResultValidation
	case errors.Is(err, model.ErrNotFound):
		return metrics.ResultNotFound
	case errors.As(err, &pe):
		return metrics.ResultPersistence
	default:
		return metrics.ResultError
	}
}

// Poll returns every change recorded after since plus the timestamp to
// pass as since next time. A zero since looks back PollWindow.
func (c *Coordinator) Poll(ctx context.Context, since time.Time) (*PollResult, error) {
	metrics.PollRequests.Inc()
	if since.IsZero() {
		since = time.Now().Add(-c.pollWindow)
	}
	entries, now, err := c.store.VersionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	out := &PollResult{Changes: make([]*model.ChangeEvent, len(entries)), Timestamp: now}
	for i, e := range entries {
		out.Changes[i] = model.EventFromEntry(e)
	}
	metrics.PollChanges.Observe(float64(len(out.Changes)))
	return out, nil
}

// Snapshot returns the current content as synthetic change events, one per
// item. Without a VersionedWriter store, each item is re-read under its key
// lock so a write that is later compensated never reaches a full sync.
func (c *Coordinator) Snapshot(ctx context.Context) ([]*model.ChangeEvent, error) {
	items, err := c.store.ListItems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("snapshot content: %w", err)
	}
	if _, ok := c.store.(store.VersionedWriter); !ok {
		if items, err = c.settle(ctx, items); err != nil {
			return nil, fmt.Errorf("snapshot content: %w", err)
		}
	}
	out := make([]*model.ChangeEvent, len(items))
	for i, it := range items {
		out[i] = model.EventFromItem(it)
	}
	return out, nil
}

// settle waits out any in-flight write to each item and returns what the
// Store holds afterwards. Keys removed by compensation are dropped.
func (c *Coordinator) settle(ctx context.Context, items []*model.ContentItem) ([]*model.ContentItem, error) {
	out := items[:0]
	for _, it := range items {
		unlock := c.locks.lock(it.Key)
		cur, err := c.store.GetItem(ctx, it.Key)
		unlock()
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	return out, nil
}

// Get returns the current item for key.
func (c *Coordinator) Get(ctx context.Context, key string) (*model.ContentItem, error) {
	return c.store.GetItem(ctx, key)
}

// List returns current items, optionally for one category.
func (c *Coordinator) List(ctx context.Context, category string) ([]*model.ContentItem, error) {
	return c.store.ListItems(ctx, category)
}

// History returns every version of key. Unknown keys are ErrNotFound.
func (c *Coordinator) History(ctx context.Context, key string) ([]*model.VersionEntry, error) {
	entries, err := c.store.ListVersions(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := c.store.GetItem(ctx, key); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
