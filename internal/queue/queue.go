// Package queue is the durable list of mutations waiting to be replayed
// against the remote gateway.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/db"
	"github.com/existflow/irondesk/internal/model"
	"github.com/google/uuid"
)

// Queue stores SyncQueueItems in the local store's sync_queue table
type Queue struct {
	store *db.Store
	now   func() time.Time
}

// New creates a queue backed by store
func New(store *db.Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Enqueue appends a mutation in its own transaction
func (q *Queue) Enqueue(ctx context.Context, op model.OpType, table model.Table, data model.Record) (model.SyncQueueItem, error) {
	var item model.SyncQueueItem
	err := q.store.Update(ctx, func(tx *db.Tx) error {
		var err error
		item, err = q.EnqueueTx(tx, op, table, data)
		return err
	})
	return item, err
}

// EnqueueTx appends a mutation inside the caller's transaction, so a local
// write and its queue entry commit together. The timestamp is wall-clock
// milliseconds, raised past the newest queued item when the clock has not
// moved or went backwards.
func (q *Queue) EnqueueTx(tx *db.Tx, op model.OpType, table model.Table, data model.Record) (model.SyncQueueItem, error) {
	if err := validate(op, table, data); err != nil {
		return model.SyncQueueItem{}, err
	}

	var last sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(timestamp) FROM sync_queue").Scan(&last); err != nil {
		return model.SyncQueueItem{}, fmt.Errorf("failed to read queue tail: %w", err)
	}

	ts := q.now().UnixMilli()
	if last.Valid && ts <= last.Int64 {
		ts = last.Int64 + 1
	}

	item := model.SyncQueueItem{
		ID:        uuid.New().String(),
		Type:      op,
		Table:     table,
		Data:      data.Clone(),
		Timestamp: ts,
	}

	payload, err := item.Data.Marshal()
	if err != nil {
		return model.SyncQueueItem{}, apperr.Wrap(apperr.CodeInvalid, "failed to encode queue payload", err)
	}

	_, err = tx.Exec(`INSERT INTO sync_queue (id, op, tbl, data, timestamp, retries)
		VALUES (?, ?, ?, ?, ?, 0)`, item.ID, string(op), string(table), string(payload), ts)
	if err != nil {
		return model.SyncQueueItem{}, fmt.Errorf("failed to enqueue %s %s: %w", op, table, err)
	}
	return item, nil
}

func validate(op model.OpType, table model.Table, data model.Record) error {
	if _, err := model.ParseOpType(string(op)); err != nil {
		return apperr.Wrap(apperr.CodeInvalid, "invalid queue operation", err)
	}
	if !table.Queueable() {
		return apperr.New(apperr.CodeInvalid, fmt.Sprintf("table %q is not synced through the queue", table))
	}
	if err := data.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeInvalid, "invalid queue payload", err)
	}
	return nil
}

// Drain returns every queued item in ascending timestamp order. Items stay
// queued until Remove.
func (q *Queue) Drain(ctx context.Context) ([]model.SyncQueueItem, error) {
	var items []model.SyncQueueItem
	err := q.store.View(ctx, func(tx *db.Tx) error {
		rows, err := tx.Query(`SELECT id, op, tbl, data, timestamp, retries
			FROM sync_queue ORDER BY timestamp, rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()

		items = []model.SyncQueueItem{}
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns one queued item or apperr.ErrNotFound
func (q *Queue) Get(ctx context.Context, id string) (model.SyncQueueItem, error) {
	var item model.SyncQueueItem
	err := q.store.View(ctx, func(tx *db.Tx) error {
		row := tx.QueryRow(`SELECT id, op, tbl, data, timestamp, retries
			FROM sync_queue WHERE id = ?`, id)
		var err error
		item, err = scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.CodeNotFound, fmt.Sprintf("queue item %s not found", id), err)
		}
		return err
	})
	return item, err
}

// Remove deletes one item; removing a missing item is not an error
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Update(ctx, func(tx *db.Tx) error {
		_, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", id)
		return err
	})
}

// IncrementRetries bumps the retry counter in place and returns the new value
func (q *Queue) IncrementRetries(ctx context.Context, id string) (int, error) {
	var retries int
	err := q.store.Update(ctx, func(tx *db.Tx) error {
		res, err := tx.Exec("UPDATE sync_queue SET retries = retries + 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.New(apperr.CodeNotFound, fmt.Sprintf("queue item %s not found", id))
		}
		return tx.QueryRow("SELECT retries FROM sync_queue WHERE id = ?", id).Scan(&retries)
	})
	return retries, err
}

// Len returns the number of pending items
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.store.View(ctx, func(tx *db.Tx) error {
		return tx.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&n)
	})
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (model.SyncQueueItem, error) {
	var (
		item      model.SyncQueueItem
		op, table string
		data      string
	)
	if err := row.Scan(&item.ID, &op, &table, &data, &item.Timestamp, &item.Retries); err != nil {
		return model.SyncQueueItem{}, err
	}
	item.Type = model.OpType(op)
	item.Table = model.Table(table)

	rec, err := model.UnmarshalRecord([]byte(data))
	if err != nil {
		return model.SyncQueueItem{}, fmt.Errorf("queue item %s: %w", item.ID, err)
	}
	item.Data = rec
	return item, nil
}
