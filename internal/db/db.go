// Package db is the local durable store: a SQLite file holding the cached
// tasks, messages and users plus the sync queue.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store wraps the SQLite database. The handle is opened lazily and shared
// by every caller.
type Store struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New returns a store for path without touching the disk
func New(path string) *Store {
	return &Store{path: path}
}

// Open creates a store and initializes it
func Open(ctx context.Context, path string) (*Store, error) {
	s := New(path)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Init opens the database and runs migrations. It is safe to call from
// several goroutines; all of them share one handle.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "store is closed", sql.ErrConnDone)
	}
	if s.db != nil {
		return s.db, nil
	}

	sqlDB, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.db = sqlDB
	return sqlDB, nil
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	// Ensure directory exists
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to create database directory", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(s.path))
	if err != nil {
		return nil, classify("failed to open database", err)
	}

	// One connection serializes writers
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, classify("failed to connect to database", err)
	}

	if err := migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, classify("failed to run migrations", err)
	}

	return sqlDB, nil
}

// connPragmas run on every connection the driver opens
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// dsn appends connPragmas to path in modernc's _pragma form
func dsn(path string) string {
	params := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		params = append(params, "_pragma="+p)
	}
	return path + "?" + strings.Join(params, "&")
}

// Close closes the database. Later operations fail with StorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SchemaVersion returns the applied migration count
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, classify("failed to read schema version", err)
	}
	return v, nil
}

// Update runs fn inside one write transaction. Inside fn only tx may be
// used; calling Store methods would wait on the single connection.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}

	if err := fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{ctx: ctx, tx: sqlTx})
}

// Put upserts one record
func (s *Store) Put(ctx context.Context, table model.Table, rec model.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Put(table, rec)
	})
}

// PutMany upserts records in one transaction
func (s *Store) PutMany(ctx context.Context, table model.Table, recs []model.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, rec := range recs {
			if err := tx.Put(table, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns one record or apperr.ErrNotFound
func (s *Store) Get(ctx context.Context, table model.Table, id string) (model.Record, error) {
	var rec model.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.Get(table, id)
		return err
	})
	return rec, err
}

// GetAll returns every record of a collection ordered by id
func (s *Store) GetAll(ctx context.Context, table model.Table) ([]model.Record, error) {
	var recs []model.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		recs, err = tx.GetAll(table)
		return err
	})
	return recs, err
}

// GetAllByIndex returns records whose indexed field equals value
func (s *Store) GetAllByIndex(ctx context.Context, table model.Table, index string, value any) ([]model.Record, error) {
	var recs []model.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		recs, err = tx.GetAllByIndex(table, index, value)
		return err
	})
	return recs, err
}

// Delete removes a record; deleting a missing id is not an error
func (s *Store) Delete(ctx context.Context, table model.Table, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(table, id)
	})
}

// ReplaceAll swaps a collection for a snapshot in one transaction. Existing
// records for which keep returns true survive unless the snapshot carries
// the same id. A nil keep replaces the collection exactly.
func (s *Store) ReplaceAll(ctx context.Context, table model.Table, recs []model.Record, keep func(model.Record) bool) error {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return apperr.Wrap(apperr.CodeInvalid, fmt.Sprintf("invalid %s snapshot", table), err)
		}
	}

	return s.Update(ctx, func(tx *Tx) error {
		if keep == nil {
			if err := tx.clear(table); err != nil {
				return err
			}
		} else {
			existing, err := tx.GetAll(table)
			if err != nil {
				return err
			}
			for _, rec := range existing {
				if keep(rec) {
					continue
				}
				if err := tx.Delete(table, rec.ID()); err != nil {
					return err
				}
			}
		}

		for _, rec := range recs {
			if err := tx.Put(table, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records in a collection
func (s *Store) Count(ctx context.Context, table model.Table) (int, error) {
	var n int
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.Count(table)
		return err
	})
	return n, err
}

// CountByIndex counts records whose indexed field equals value
func (s *Store) CountByIndex(ctx context.Context, table model.Table, index string, value any) (int, error) {
	var n int
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.CountByIndex(table, index, value)
		return err
	})
	return n, err
}

// GetState reads a value from the sync_state table; missing keys return ""
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.View(ctx, func(tx *Tx) error {
		err := tx.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			value = ""
			return nil
		}
		return classify("failed to read sync state", err)
	})
	return value, err
}

// SetState writes a value to the sync_state table
func (s *Store) SetState(ctx context.Context, key, value string) error {
	return s.Update(ctx, func(tx *Tx) error {
		_, err := tx.Exec(`INSERT INTO sync_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}

// storageCodes are SQLite primary result codes that mean the device
// storage itself is unusable
var storageCodes = map[int]bool{
	sqlite3.SQLITE_FULL:     true,
	sqlite3.SQLITE_CANTOPEN: true,
	sqlite3.SQLITE_READONLY: true,
	sqlite3.SQLITE_IOERR:    true,
	sqlite3.SQLITE_NOTADB:   true,
	sqlite3.SQLITE_CORRUPT:  true,
	sqlite3.SQLITE_PERM:     true,
}

// classify wraps err, mapping storage failures to StorageUnavailable
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return apperr.Wrap(apperr.CodeStorageUnavailable, msg, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && storageCodes[sqliteErr.Code()&0xff] {
		return apperr.Wrap(apperr.CodeStorageUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
