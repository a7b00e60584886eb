package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "irondesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitIsIdempotentAndShared(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "nested", "irondesk.db"))
	t.Cleanup(func() { _ = s.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Init(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, len(migrations), v)
}

func TestReopenKeepsDataAndVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "irondesk.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, model.TableTasks, model.Record{"id": "t1", "title": "a"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Get(ctx, model.TableTasks, "t1")
	require.NoError(t, err)
	require.Equal(t, "a", rec.String("title"))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, len(migrations), v)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, model.TableTasks, model.Record{"id": "t1", "title": "first"}))
	require.NoError(t, s.Put(ctx, model.TableTasks, model.Record{"id": "t1", "title": "second"}))

	rec, err := s.Get(ctx, model.TableTasks, "t1")
	require.NoError(t, err)
	require.Equal(t, "second", rec.String("title"))

	require.NoError(t, s.Delete(ctx, model.TableTasks, "t1"))
	require.NoError(t, s.Delete(ctx, model.TableTasks, "t1"))

	_, err = s.Get(ctx, model.TableTasks, "t1")
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPutRejectsRecordWithoutID(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), model.TableTasks, model.Record{"title": "orphan"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))
}

func TestUnknownCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAll(context.Background(), model.Table("leads"))
	require.True(t, apperr.Is(err, apperr.CodeInvalid))
}

func TestGetAllByIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutMany(ctx, model.TableTasks, []model.Record{
		{"id": "t1", "assignee_id": "u1", "status": "todo"},
		{"id": "t2", "assignee_id": "u2", "status": "todo"},
		{"id": "t3", "assignee_id": "u1", "status": "done"},
	}))

	recs, err := s.GetAllByIndex(ctx, model.TableTasks, "assignee_id", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "t1", recs[0].ID())
	require.Equal(t, "t3", recs[1].ID())

	n, err := s.CountByIndex(ctx, model.TableTasks, "status", "todo")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.GetAllByIndex(ctx, model.TableTasks, "title", "x")
	require.True(t, apperr.Is(err, apperr.CodeInvalid))
}

func TestBooleanIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutMany(ctx, model.TableMessages, []model.Record{
		{"id": "m1", "task_id": "t1", "synced": false},
		{"id": "m2", "task_id": "t1", "synced": true},
		{"id": "m3", "task_id": "t2"},
	}))

	recs, err := s.GetAllByIndex(ctx, model.TableMessages, "synced", false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "m1", recs[0].ID())
}

func TestReplaceAllIsExact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutMany(ctx, model.TableTasks, []model.Record{
		{"id": "A", "title": "old", "extra": "local only"},
		{"id": "B", "title": "b"},
	}))

	require.NoError(t, s.ReplaceAll(ctx, model.TableTasks, []model.Record{
		{"id": "A", "title": "new"},
		{"id": "C", "title": "c"},
	}, nil))

	recs, err := s.GetAll(ctx, model.TableTasks)
	require.NoError(t, err)
	require.Equal(t, []model.Record{
		{"id": "A", "title": "new"},
		{"id": "C", "title": "c"},
	}, recs)
}

func TestReplaceAllKeepPredicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutMany(ctx, model.TableMessages, []model.Record{
		{"id": "m1", "synced": true},
		{"id": "m2", "synced": false},
	}))

	require.NoError(t, s.ReplaceAll(ctx, model.TableMessages,
		[]model.Record{{"id": "m9", "synced": true}}, model.IsUnsynced))

	recs, err := s.GetAll(ctx, model.TableMessages)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "m2", recs[0].ID())
	require.Equal(t, "m9", recs[1].ID())
}

func TestReplaceAllRejectsBadSnapshotWithoutTouchingCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, model.TableUsers, model.Record{"id": "u1"}))

	err := s.ReplaceAll(ctx, model.TableUsers, []model.Record{{"id": "u2"}, {"name": "no id"}}, nil)
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	recs, err := s.GetAll(ctx, model.TableUsers)
	require.NoError(t, err)
	require.Equal(t, []model.Record{{"id": "u1"}}, recs)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, model.TableTasks, model.Record{"id": "t1"}))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Delete(model.TableTasks, "t1"))
		require.NoError(t, tx.Put(model.TableTasks, model.Record{"id": "t2"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	recs, err := s.GetAll(ctx, model.TableTasks)
	require.NoError(t, err)
	require.Equal(t, []model.Record{{"id": "t1"}}, recs)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.GetAll(ctx, model.TableTasks)
	require.True(t, errors.Is(err, apperr.ErrStorageUnavailable))

	err = s.Put(ctx, model.TableTasks, model.Record{"id": "t1"})
	require.True(t, errors.Is(err, apperr.ErrStorageUnavailable))

	require.True(t, errors.Is(s.Init(ctx), apperr.ErrStorageUnavailable))
}

func TestSyncState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.GetState(ctx, "last_pull_at")
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, s.SetState(ctx, "last_pull_at", "2026-01-02T03:04:05Z"))
	require.NoError(t, s.SetState(ctx, "last_pull_at", "2026-01-03T03:04:05Z"))

	v, err = s.GetState(ctx, "last_pull_at")
	require.NoError(t, err)
	require.Equal(t, "2026-01-03T03:04:05Z", v)
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "irondesk.db")

	sqlDB, err := sql.Open("sqlite", dsn(path))
	require.NoError(t, err)
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(2)

	first, err := sqlDB.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := sqlDB.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for _, conn := range []*sql.Conn{first, second} {
		var timeout, fk int
		var mode string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		require.Equal(t, 5000, timeout)
		require.Equal(t, 1, fk)
		require.Equal(t, "wal", mode)
	}
}
