package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/model"
)

// Tx is one local transaction spanning every collection and the sync queue
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// Context returns the context the transaction was started with
func (t *Tx) Context() context.Context {
	return t.ctx
}

func checkTable(table model.Table) error {
	if !table.Valid() {
		return apperr.New(apperr.CodeInvalid, fmt.Sprintf("unknown collection %q", table))
	}
	return nil
}

// Put upserts one record by id
func (t *Tx) Put(table model.Table, rec model.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeInvalid, fmt.Sprintf("invalid %s record", table), err)
	}

	doc, err := rec.Marshal()
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalid, fmt.Sprintf("failed to encode %s record", table), err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, table)
	_, err = t.Exec(query, rec.ID(), string(doc))
	return err
}

// Get returns one record or apperr.ErrNotFound
func (t *Tx) Get(table model.Table, id string) (model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var doc string
	err := t.QueryRow(fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", table), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.CodeNotFound, fmt.Sprintf("%s %s not found", table, id), err)
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to get %s %s", table, id), err)
	}
	return model.UnmarshalRecord([]byte(doc))
}

// GetAll returns every record of a collection ordered by id
func (t *Tx) GetAll(table model.Table) ([]model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return t.queryDocs(fmt.Sprintf("SELECT doc FROM %s ORDER BY id", table))
}

// GetAllByIndex returns records whose indexed field equals value
func (t *Tx) GetAllByIndex(table model.Table, index string, value any) ([]model.Record, error) {
	if err := checkIndex(table, index); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s = ? ORDER BY id", table, jsonField(index))
	return t.queryDocs(query, indexArg(value))
}

// Delete removes a record by id
func (t *Tx) Delete(table model.Table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := t.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return err
}

// Count returns the number of records in a collection
func (t *Tx) Count(table model.Table) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	if err := t.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, classify(fmt.Sprintf("failed to count %s", table), err)
	}
	return n, nil
}

// CountByIndex counts records whose indexed field equals value
func (t *Tx) CountByIndex(table model.Table, index string, value any) (int, error) {
	if err := checkIndex(table, index); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, jsonField(index))
	if err := t.QueryRow(query, indexArg(value)).Scan(&n); err != nil {
		return 0, classify(fmt.Sprintf("failed to count %s by %s", table, index), err)
	}
	return n, nil
}

func (t *Tx) clear(table model.Table) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := t.Exec(fmt.Sprintf("DELETE FROM %s", table))
	return err
}

// Exec runs a statement inside the transaction
func (t *Tx) Exec(query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return nil, classify("failed to execute statement", err)
	}
	return res, nil
}

// Query runs a query inside the transaction
func (t *Tx) Query(query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, classify("failed to query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query inside the transaction. Errors are
// deferred to Scan and are not classified.
func (t *Tx) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

func (t *Tx) queryDocs(query string, args ...any) ([]model.Record, error) {
	rows, err := t.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []model.Record{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, classify("failed to scan record", err)
		}
		rec, err := model.UnmarshalRecord([]byte(doc))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to read records", err)
	}
	return recs, nil
}

func checkIndex(table model.Table, index string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if !hasIndex(table, index) {
		return apperr.New(apperr.CodeInvalid, fmt.Sprintf("collection %s has no index %q", table, index))
	}
	return nil
}

// indexArg converts a lookup value to what json_extract yields for it
func indexArg(value any) any {
	if b, ok := value.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return value
}
