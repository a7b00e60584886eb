package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	"github.com/lib/pq"
)

// maxTxAttempts bounds retries of a mutation that lost a lock race
const maxTxAttempts = 3

// PostgresStore keeps the legacy and normalized representations in one
// Postgres database and writes both inside a single transaction
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and runs migrations
func OpenPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Insert creates an entity in both representations. Creating an id that
// already exists returns the stored record unchanged, so replays are safe.
func (s *PostgresStore) Insert(ctx context.Context, table model.Table, rec model.Record) (model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalid, "invalid record", err)
	}

	var out model.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := lockLegacy(ctx, tx, table, rec.ID())
		if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		doc, err := rec.Marshal()
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalid, "failed to encode record", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO legacy_records (tbl, id, doc) VALUES ($1, $2, $3)
			ON CONFLICT (tbl, id) DO NOTHING`,
			string(table), rec.ID(), string(doc))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// a concurrent create committed first
			out, err = lockLegacy(ctx, tx, table, rec.ID())
			return err
		}

		if err := upsertNormalized(ctx, tx, table, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update merges patch into an entity under a row lock and rewrites both
// representations
func (s *PostgresStore) Update(ctx context.Context, table model.Table, id string, patch model.Record) (model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var out model.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := lockLegacy(ctx, tx, table, id)
		if err != nil {
			return err
		}

		merged := existing.Merge(patch)
		merged["id"] = id
		doc, err := merged.Marshal()
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalid, "failed to encode record", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE legacy_records SET doc = $3, updated_at = NOW()
			WHERE tbl = $1 AND id = $2`,
			string(table), id, string(doc)); err != nil {
			return err
		}
		if err := upsertNormalized(ctx, tx, table, merged); err != nil {
			return err
		}
		out = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an entity from both representations. A missing entity
// is not an error.
func (s *PostgresStore) Delete(ctx context.Context, table model.Table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockLegacy(ctx, tx, table, id); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM legacy_records WHERE tbl = $1 AND id = $2`, string(table), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", normTable(table)), id)
		return err
	})
}

// SelectAll reads a snapshot from the legacy representation
func (s *PostgresStore) SelectAll(ctx context.Context, table model.Table, q gateway.Query) ([]model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	query, args := snapshotQuery(table, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPQError(err)
	}
	defer rows.Close()

	recs := []model.Record{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := model.UnmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func snapshotQuery(table model.Table, q gateway.Query) (string, []any) {
	var b strings.Builder
	args := []any{string(table)}

	b.WriteString("SELECT doc FROM legacy_records WHERE tbl = $1")
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		fmt.Fprintf(&b, " AND updated_at > $%d", len(args))
	}

	order := "id"
	switch q.OrderBy {
	case "", "id":
	case "updated_at":
		order = "updated_at"
	default:
		// whitelisted by checkQuery
		order = fmt.Sprintf("doc->>'%s'", q.OrderBy)
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", order, dir, dir)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// lockLegacy takes the entity's row lock and returns its legacy document
func lockLegacy(ctx context.Context, tx *sql.Tx, table model.Table, id string) (model.Record, error) {
	var doc []byte
	err := tx.QueryRowContext(ctx, `
		SELECT doc FROM legacy_records WHERE tbl = $1 AND id = $2 FOR UPDATE`,
		string(table), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %s not found", table, id))
	}
	if err != nil {
		return nil, err
	}
	return model.UnmarshalRecord(doc)
}

func normTable(table model.Table) string {
	return "norm_" + string(table)
}

func upsertNormalized(ctx context.Context, tx *sql.Tx, table model.Table, rec model.Record) error {
	cols := normColumns[table]
	names := make([]string, 0, len(cols)+1)
	placeholders := make([]string, 0, len(cols)+1)
	updates := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)

	names = append(names, "id")
	placeholders = append(placeholders, "$1")
	args = append(args, rec.ID())

	for i, col := range cols {
		names = append(names, col.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.Name, col.Name))
		args = append(args, columnValue(rec, col))
	}
	updates = append(updates, "written_at = NOW()")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		normTable(table),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// withTx runs fn in one transaction, retrying when Postgres aborts it
// over a lock conflict
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryableTxError(err) || attempt == maxTxAttempts {
			break
		}
		logger.Debug("Retrying transaction",
			logger.F("attempt", attempt),
			logger.F("error", err.Error()))
		if serr := sleepWithContext(ctx, time.Duration(attempt)*25*time.Millisecond); serr != nil {
			return serr
		}
	}
	return mapPQError(err)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

// mapPQError gives constraint violations an INVALID code so clients do
// not retry them
func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Class() {
	case "22", "23": // data exception, integrity constraint violation
		return apperr.Wrap(apperr.CodeInvalid, pqErr.Message, err)
	}
	if isRetryableTxError(err) {
		return apperr.Wrap(apperr.CodeConflict, "transaction conflict", err)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
