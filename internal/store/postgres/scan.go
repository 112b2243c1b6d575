package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanItem scans a single row into a model.ContentItem.
// The row must contain columns in the order defined by itemColumns.
func scanItem(row scannable) (*model.ContentItem, error) {
	var c model.ContentItem
	var (
		description sql.NullString
		updatedBy   sql.NullString
	)
	err := row.Scan(
		&c.Key,
		&c.Value,
		&c.ValueType,
		&c.Category,
		&description,
		&c.UpdatedAt,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}
	c.Description = description.String
	c.UpdatedBy = updatedBy.String
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// scanItems scans multiple rows into a slice of model.ContentItem pointers.
func scanItems(rows *sql.Rows) ([]*model.ContentItem, error) {
	var items []*model.ContentItem
	for rows.Next() {
		c, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// scanVersion scans a single row into a model.VersionEntry.
// The row must contain columns in the order defined by versionColumns.
func scanVersion(row scannable) (*model.VersionEntry, error) {
	var e model.VersionEntry
	var rollbackOf sql.NullInt64
	err := row.Scan(
		&e.Key,
		&e.Sequence,
		&e.PreviousValue,
		&e.NewValue,
		&e.ValueType,
		&e.Action,
		&rollbackOf,
		&e.ChangedBy,
		&e.ChangedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RollbackOf = rollbackOf.Int64
	e.ChangedAt = e.ChangedAt.UTC()
	return &e, nil
}

// scanVersions scans multiple rows into a slice of model.VersionEntry pointers.
func scanVersions(rows *sql.Rows) ([]*model.VersionEntry, error) {
	var entries []*model.VersionEntry
	for rows.Next() {
		e, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// nullString returns a sql.NullString that is NULL when s is empty.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt64 returns a sql.NullInt64 that is NULL when n is zero.
func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
