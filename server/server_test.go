package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/model"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

func newTestServer(t *testing.T) (*MemoryStore, http.Handler) {
	t.Helper()
	store := NewMemoryStore()
	srv := New(store, Options{APIToken: testToken})
	t.Cleanup(func() { _ = srv.Close() })
	return store, srv.Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env gateway.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestAuthRequired(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testToken},
		{"wrong token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/records/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	srv := New(NewMemoryStore(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/tasks", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordLifecycle(t *testing.T) {
	store, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/records/tasks",
		`{"id":"t1","title":"write docs","status":"todo","priority":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	row, ok := store.Normalized(model.TableTasks, "t1")
	require.True(t, ok)
	require.Equal(t, "write docs", row["title"])
	require.Equal(t, int64(2), row["priority"])

	rec = doRequest(t, h, http.MethodPatch, "/api/v1/records/tasks/t1", `{"status":"done"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.Record
	decodeData(t, rec, &updated)
	require.Equal(t, "done", updated["status"])
	require.Equal(t, "write docs", updated["title"])

	row, _ = store.Normalized(model.TableTasks, "t1")
	require.Equal(t, "done", row["status"])

	rec = doRequest(t, h, http.MethodGet, "/api/v1/records/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Record
	decodeData(t, rec, &list)
	require.Len(t, list, 1)

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/records/tasks/t1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = store.Normalized(model.TableTasks, "t1")
	require.False(t, ok)

	// deleting again is not an error
	rec = doRequest(t, h, http.MethodDelete, "/api/v1/records/tasks/t1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInsertIsIdempotent(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/records/tasks", `{"id":"t1","title":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/records/tasks", `{"id":"t1","title":"second"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out model.Record
	decodeData(t, rec, &out)
	require.Equal(t, "first", out["title"])
}

func TestHandlerErrors(t *testing.T) {
	_, h := newTestServer(t)
	doRequest(t, h, http.MethodPost, "/api/v1/records/tasks", `{"id":"t1","title":"a"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown table", http.MethodGet, "/api/v1/records/projects", "", http.StatusNotFound},
		{"users are read-only", http.MethodPost, "/api/v1/records/users", `{"id":"u1"}`, http.StatusForbidden},
		{"missing id", http.MethodPost, "/api/v1/records/tasks", `{"title":"a"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/records/tasks", `{"id":`, http.StatusBadRequest},
		{"null body", http.MethodPost, "/api/v1/records/tasks", `null`, http.StatusBadRequest},
		{"update missing", http.MethodPatch, "/api/v1/records/tasks/nope", `{"title":"b"}`, http.StatusNotFound},
		{"id mismatch", http.MethodPatch, "/api/v1/records/tasks/t1", `{"id":"t2"}`, http.StatusBadRequest},
		{"invalid status", http.MethodPatch, "/api/v1/records/tasks/t1", `{"status":"later"}`, http.StatusBadRequest},
		{"bad order", http.MethodGet, "/api/v1/records/tasks?order=doc", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/records/tasks?limit=-1", "", http.StatusBadRequest},
		{"bad since", http.MethodGet, "/api/v1/records/tasks?since=yesterday", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var env gateway.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.NotEmpty(t, env.Error)
		})
	}
}

func TestMemoryStoreRejectsBothRepresentations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Insert(ctx, model.TableTasks, model.Record{"id": "t1", "status": "todo"})
	require.NoError(t, err)

	_, err = store.Update(ctx, model.TableTasks, "t1", model.Record{"status": "blocked", "title": "x"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	recs, err := store.SelectAll(ctx, model.TableTasks, gateway.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "todo", recs[0]["status"])
	require.NotContains(t, recs[0], "title")

	row, ok := store.Normalized(model.TableTasks, "t1")
	require.True(t, ok)
	require.Equal(t, "todo", row["status"])
	require.Nil(t, row["title"])
}

func TestMemoryStoreSnapshotQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := store.Insert(ctx, model.TableMessages, model.Record{
			"id":         id,
			"created_at": "2026-01-0" + id[1:] + "T00:00:00Z",
		})
		require.NoError(t, err)
	}

	recs, err := store.SelectAll(ctx, model.TableMessages, gateway.Query{OrderBy: "created_at", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m2"}, []string{recs[0].ID(), recs[1].ID()})

	recs, err = store.SelectAll(ctx, model.TableMessages, gateway.Query{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

// TestHTTPClientAgainstServer runs the client gateway against a real
// server over loopback
func TestHTTPClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	store, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	_, err := store.Insert(ctx, model.TableUsers, model.Record{"id": "u1", "name": "Ada"})
	require.NoError(t, err)

	client := gateway.NewHTTPClient(ts.URL, testToken, 5*time.Second)
	require.NoError(t, client.Ping(ctx))

	item := model.SyncQueueItem{
		ID:    "q1",
		Type:  model.OpCreate,
		Table: model.TableTasks,
		Data:  model.Record{"id": "t1", "title": "a", "status": "todo"},
	}
	require.NoError(t, gateway.Apply(ctx, client, item))

	item.Type = model.OpUpdate
	item.Data = model.Record{"id": "t1", "status": "in_progress"}
	require.NoError(t, gateway.Apply(ctx, client, item))

	row, ok := store.Normalized(model.TableTasks, "t1")
	require.True(t, ok)
	require.Equal(t, "in_progress", row["status"])

	users, err := client.SelectAll(ctx, model.TableUsers, gateway.Query{OrderBy: "name"})
	require.NoError(t, err)
	require.Len(t, users, 1)

	_, err = client.Update(ctx, model.TableTasks, "missing", model.Record{"title": "x"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = client.Insert(ctx, model.TableUsers, model.Record{"id": "u2"})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	item.Type = model.OpDelete
	require.NoError(t, gateway.Apply(ctx, client, item))
	_, ok = store.Normalized(model.TableTasks, "t1")
	require.False(t, ok)

	bad := gateway.NewHTTPClient(ts.URL, "wrong", 5*time.Second)
	_, err = bad.SelectAll(ctx, model.TableTasks, gateway.Query{})
	require.True(t, apperr.Is(err, apperr.CodeInvalid))
}
