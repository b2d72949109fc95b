// Package store is the durable persistence layer: an embedded SQLite
// database holding the canonical event rows, the staged relay outbox, and
// the append-only audit log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tobiasvik/biovault/internal/model"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode=WAL`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys=ON`
	pragmaBusyTimeout    = `PRAGMA busy_timeout=5000`
)

type Store struct {
	db   *sql.DB
	path string

	Events EventRepository
	Outbox OutboxRepository
	Audit  AuditRepository
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open store: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(db, DefaultMigrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureDBPermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		db:   db,
		path: path,
	}
	store.Events = &eventRepository{db: db}
	store.Outbox = &outboxRepository{db: db}
	store.Audit = &auditRepository{db: db}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// The Store is itself an EventStore so the decorator chain can wrap it
// directly; every method delegates to the owning repository.

func (s *Store) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	return s.Events.IngestBatch(ctx, events)
}

func (s *Store) Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error) {
	return s.Events.Range(ctx, typ, from, to)
}

func (s *Store) RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error {
	return s.Events.RangeEach(ctx, typ, from, to, fn)
}

func (s *Store) AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]Bucket, error) {
	return s.Events.AggregateBuckets(ctx, typ, from, to, width)
}

func (s *Store) LatestPerType(ctx context.Context) ([]model.BiometricEvent, error) {
	return s.Events.LatestPerType(ctx)
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error) {
	return s.Outbox.Pending(ctx, limit)
}

func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	return s.Outbox.MarkProcessed(ctx, id)
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	return s.Outbox.MarkFailed(ctx, id, lastError)
}

func (s *Store) PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error) {
	return s.Outbox.PurgeProcessed(ctx, cutoff)
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{pragmaJournalModeWAL, pragmaForeignKeysOn, pragmaBusyTimeout}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}
	return nil
}

func ensureDBPermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w", err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w", err)
		}
	}
	return nil
}
