package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// Advisory lock classes. The gate serializes poll clock reads against
// appends; the key class serializes sequence assignment per key.
const (
	gateLockClass = "74201"
	keyLockClass  = "74202"
)

// itemColumns is the column list used for SELECT statements on content_items.
const itemColumns = `key, value, value_type, category, description, updated_at, updated_by`

// versionColumns is the column list used for SELECT statements on version_entries.
const versionColumns = `key, sequence, previous_value, new_value, value_type,
	action, rollback_of, changed_by, changed_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGetItem(ctx context.Context, db executor, key string) (*model.ContentItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE key = $1`, key)
	c, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("content %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get content %q: %w", key, err)
	}
	return c, nil
}

// querySetItem upserts an item. Empty category and description on update
// keep the stored values; a new item with no category lands in general.
func querySetItem(ctx context.Context, db executor, c *model.ContentItem) (*model.ContentItem, error) {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	row := db.QueryRowContext(ctx, `
		INSERT INTO content_items (key, value, value_type, category, description, updated_at, updated_by)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'general'), $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			category = COALESCE(NULLIF($4, ''), content_items.category),
			description = COALESCE(EXCLUDED.description, content_items.description),
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING `+itemColumns,
		c.Key,
		c.Value,
		string(c.ValueType),
		c.Category,
		nullString(c.Description),
		updatedAt,
		nullString(c.UpdatedBy),
	)
	out, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("set content %q: %w", c.Key, err)
	}
	return out, nil
}

func queryListItems(ctx context.Context, db executor, category string) ([]*model.ContentItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if category == "" {
		rows, err = db.QueryContext(ctx, `SELECT `+itemColumns+` FROM content_items ORDER BY category, key`)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE category = $1 ORDER BY category, key`, category)
	}
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func queryDeleteItem(ctx context.Context, db executor, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM content_items WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete content %q: %w", key, err)
	}
	return nil
}

// queryInsertVersion computes the next sequence from the current maximum.
// Callers must hold the key's advisory lock.
func queryInsertVersion(ctx context.Context, db executor, key, previous, next, actor string, meta model.AppendMeta) (*model.VersionEntry, error) {
	action := meta.Action
	if action == "" {
		action = model.ActionSet
	}
	e := &model.VersionEntry{
		Key:           key,
		PreviousValue: previous,
		NewValue:      next,
		ValueType:     meta.ValueType,
		Action:        action,
		RollbackOf:    meta.RollbackOf,
		ChangedBy:     actor,
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO version_entries (
			key, sequence, previous_value, new_value, value_type,
			action, rollback_of, changed_by, changed_at
		)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7, clock_timestamp()
		FROM version_entries WHERE key = $1
		RETURNING sequence, changed_at`,
		key,
		previous,
		next,
		string(meta.ValueType),
		string(action),
		nullInt64(meta.RollbackOf),
		actor,
	).Scan(&e.Sequence, &e.ChangedAt)
	if err != nil {
		return nil, fmt.Errorf("append version for %q: %w", key, err)
	}
	e.ChangedAt = e.ChangedAt.UTC()
	return e, nil
}

func queryListVersions(ctx context.Context, db executor, key string) ([]*model.VersionEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+versionColumns+` FROM version_entries WHERE key = $1 ORDER BY sequence`, key)
	if err != nil {
		return nil, fmt.Errorf("list versions for %q: %w", key, err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func queryGetVersion(ctx context.Context, db executor, key string, seq int64) (*model.VersionEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM version_entries WHERE key = $1 AND sequence = $2`, key, seq)
	e, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("version %d of %q", seq, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %d of %q: %w", seq, key, err)
	}
	return e, nil
}

func queryVersionsBetween(ctx context.Context, db executor, since, until time.Time) ([]*model.VersionEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM version_entries
		WHERE changed_at > $1 AND changed_at <= $2
		ORDER BY changed_at, key, sequence`,
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions since %s: %w", since.Format(time.RFC3339Nano), err)
	}
	defer rows.Close()
	return scanVersions(rows)
}
