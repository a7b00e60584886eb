package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableTxError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pq.Error{Code: "40001"}, true},
		{&pq.Error{Code: "40P01"}, true},
		{fmt.Errorf("commit: %w", &pq.Error{Code: "55P03"}), true},
		{&pq.Error{Code: "23505"}, false},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, isRetryableTxError(tt.err), "%v", tt.err)
	}
}

func TestMapPQError(t *testing.T) {
	require.NoError(t, mapPQError(nil))

	err := mapPQError(&pq.Error{Code: "23514", Message: "violates check constraint"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	err = mapPQError(&pq.Error{Code: "22P02", Message: "invalid input syntax"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	err = mapPQError(&pq.Error{Code: "40P01"})
	require.True(t, apperr.Is(err, apperr.CodeConflict))

	plain := errors.New("boom")
	require.Equal(t, plain, mapPQError(plain))
}

func TestSnapshotQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := snapshotQuery(model.TableTasks, gateway.Query{})
	require.Equal(t, "SELECT doc FROM legacy_records WHERE tbl = $1 ORDER BY id ASC, id ASC", query)
	require.Equal(t, []any{"tasks"}, args)

	query, args = snapshotQuery(model.TableMessages, gateway.Query{
		Since:      since,
		OrderBy:    "created_at",
		Descending: true,
		Limit:      50,
	})
	require.Equal(t, "SELECT doc FROM legacy_records WHERE tbl = $1 AND updated_at > $2"+
		" ORDER BY doc->>'created_at' DESC, id DESC LIMIT $3", query)
	require.Equal(t, []any{"messages", since, 50}, args)
}

func TestColumnValue(t *testing.T) {
	rec := model.Record{"priority": float64(3), "title": "a", "due_date": nil, "extra": 7}

	require.Equal(t, int64(3), columnValue(rec, column{Name: "priority", Int: true}))
	require.Equal(t, "a", columnValue(rec, column{Name: "title"}))
	require.Nil(t, columnValue(rec, column{Name: "due_date"}))
	require.Nil(t, columnValue(rec, column{Name: "missing"}))
	require.Equal(t, "7", columnValue(rec, column{Name: "extra"}))
}

func TestCheckQuery(t *testing.T) {
	require.NoError(t, checkQuery(gateway.Query{OrderBy: "updated_at", Limit: 10}))
	require.True(t, apperr.Is(checkQuery(gateway.Query{OrderBy: "doc; DROP TABLE x"}), apperr.CodeInvalid))
	require.True(t, apperr.Is(checkQuery(gateway.Query{Limit: -1}), apperr.CodeInvalid))
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}

// openTestPostgres connects to IRONDESK_TEST_DATABASE_URL and starts from
// empty tables
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("IRONDESK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IRONDESK_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.db.ExecContext(ctx,
		"TRUNCATE legacy_records, norm_tasks, norm_messages, norm_users")
	require.NoError(t, err)
	return store
}

func normStatus(t *testing.T, store *PostgresStore, id string) (string, bool) {
	t.Helper()
	var status sql.NullString
	err := store.db.QueryRow("SELECT status FROM norm_tasks WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	require.NoError(t, err)
	return status.String, true
}

func TestPostgresDualWrite(t *testing.T) {
	ctx := context.Background()
	store := openTestPostgres(t)

	_, err := store.Insert(ctx, model.TableTasks, model.Record{"id": "t1", "title": "a", "status": "todo", "priority": 1})
	require.NoError(t, err)

	status, ok := normStatus(t, store, "t1")
	require.True(t, ok)
	require.Equal(t, "todo", status)

	out, err := store.Update(ctx, model.TableTasks, "t1", model.Record{"status": "done"})
	require.NoError(t, err)
	require.Equal(t, "a", out["title"])

	status, _ = normStatus(t, store, "t1")
	require.Equal(t, "done", status)

	// the CHECK constraint on the normalized table rolls back the legacy write
	_, err = store.Update(ctx, model.TableTasks, "t1", model.Record{"status": "blocked"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	recs, err := store.SelectAll(ctx, model.TableTasks, gateway.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "done", recs[0]["status"])

	_, err = store.Update(ctx, model.TableTasks, "nope", model.Record{"title": "x"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Delete(ctx, model.TableTasks, "t1"))
	require.NoError(t, store.Delete(ctx, model.TableTasks, "t1"))
	_, ok = normStatus(t, store, "t1")
	require.False(t, ok)
}

func TestPostgresConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := openTestPostgres(t)

	_, err := store.Insert(ctx, model.TableTasks, model.Record{"id": "t1", "status": "todo"})
	require.NoError(t, err)

	statuses := []string{"todo", "in_progress", "done"}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, model.TableTasks, "t1", model.Record{"status": statuses[i%3]})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs, err := store.SelectAll(ctx, model.TableTasks, gateway.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	status, ok := normStatus(t, store, "t1")
	require.True(t, ok)
	require.Equal(t, recs[0]["status"], status)
}
