// Package postgres stores content and its version history in PostgreSQL.
// Advisory locks order appends against change polls across replicas.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Pool sizing for the content workload: short transactions, few writers.
const (
	maxOpenConns    = 20
	maxIdleConns    = 4
	connMaxLifetime = 10 * time.Minute
	connectTimeout  = 15 * time.Second
)

// Store keeps content and history in PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.VersionedWriter = (*Store)(nil)
)

// New connects to databaseURL and migrates the schema to the latest
// version before returning.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an open handle and leaves the schema alone.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "livesite_schema_migrations"})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetItem(ctx context.Context, key string) (*model.ContentItem, error) {
	return queryGetItem(ctx, s.db, key)
}

func (s *Store) SetItem(ctx context.Context, item *model.ContentItem) (*model.ContentItem, error) {
	if err := model.ValidateItem(item); err != nil {
		return nil, err
	}
	return querySetItem(ctx, s.db, item)
}

func (s *Store) ListItems(ctx context.Context, category string) ([]*model.ContentItem, error) {
	return queryListItems(ctx, s.db, category)
}

func (s *Store) DeleteItem(ctx context.Context, key string) error {
	return queryDeleteItem(ctx, s.db, key)
}

func (s *Store) ListVersions(ctx context.Context, key string) ([]*model.VersionEntry, error) {
	return queryListVersions(ctx, s.db, key)
}

func (s *Store) GetVersion(ctx context.Context, key string, seq int64) (*model.VersionEntry, error) {
	return queryGetVersion(ctx, s.db, key, seq)
}

// AppendVersion inserts the next entry for key. The transaction holds the
// poll gate in shared mode and the key lock exclusively until commit.
func (s *Store) AppendVersion(ctx context.Context, key, previous, next, actor string, meta model.AppendMeta) (*model.VersionEntry, error) {
	var entry *model.VersionEntry
	err := s.inTx(ctx, func(tx executor) error {
		if err := lockForAppend(ctx, tx, key); err != nil {
			return err
		}
		var err error
		entry, err = queryInsertVersion(ctx, tx, key, previous, next, actor, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// WriteVersioned upserts the item and inserts its version entry in one
// transaction holding the poll gate shared and the key lock exclusively, so
// writers on every replica apply a key's changes one at a time.
func (s *Store) WriteVersioned(ctx context.Context, key string, build store.BuildFunc) (*store.VersionedWrite, error) {
	var out *store.VersionedWrite
	err := s.inTx(ctx, func(tx executor) error {
		if err := lockForAppend(ctx, tx, key); err != nil {
			return err
		}
		prev, err := queryGetItem(ctx, tx, key)
		if errors.Is(err, model.ErrNotFound) {
			prev = nil
		} else if err != nil {
			return err
		}

		item, meta, err := build(prev)
		if err != nil {
			return err
		}
		if err := model.ValidateItem(item); err != nil {
			return err
		}
		saved, err := querySetItem(ctx, tx, item)
		if err != nil {
			return err
		}
		previous := ""
		if prev != nil {
			previous = prev.Value
		}
		entry, err := queryInsertVersion(ctx, tx, key, previous, saved.Value, item.UpdatedBy, meta)
		if err != nil {
			return err
		}
		out = &store.VersionedWrite{Previous: prev, Item: saved, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockForAppend takes the poll gate shared and the key lock exclusively
// for the rest of the transaction.
func lockForAppend(ctx context.Context, tx executor, key string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock_shared(`+gateLockClass+`, 0)`); err != nil {
		return fmt.Errorf("acquire poll gate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(`+keyLockClass+`, hashtext($1))`, key); err != nil {
		return fmt.Errorf("acquire key lock: %w", err)
	}
	return nil
}

// VersionsSince briefly takes the poll gate exclusively to read the clock,
// which waits out every in-flight append.
func (s *Store) VersionsSince(ctx context.Context, since time.Time) ([]*model.VersionEntry, time.Time, error) {
	var now time.Time
	err := s.inTx(ctx, func(tx executor) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(`+gateLockClass+`, 0)`); err != nil {
			return fmt.Errorf("acquire poll gate: %w", err)
		}
		return tx.QueryRowContext(ctx, `SELECT clock_timestamp()`).Scan(&now)
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	now = now.UTC()

	entries, err := queryVersionsBetween(ctx, s.db, since, now)
	if err != nil {
		return nil, time.Time{}, err
	}
	return entries, now, nil
}

// inTx runs fn in a transaction. fn's error rolls it back.
func (s *Store) inTx(ctx context.Context, fn func(tx executor) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}
