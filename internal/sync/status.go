package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/existflow/irondesk/internal/db"
	"github.com/existflow/irondesk/internal/model"
	"github.com/existflow/irondesk/internal/queue"
)

// Status is a read-only summary for the UI
type Status struct {
	IsOnline              bool      `json:"is_online"`
	HasCachedData         bool      `json:"has_cached_data"`
	PendingSyncCount      int       `json:"pending_sync_count"`
	UnsyncedMessagesCount int       `json:"unsynced_messages_count"`
	Syncing               bool      `json:"syncing"`
	LastSyncAt            time.Time `json:"last_sync_at,omitempty"`
	LastSyncError         string    `json:"last_sync_error,omitempty"`
	LastPullAt            time.Time `json:"last_pull_at,omitempty"`
}

// Reporter derives Status from the other components
type Reporter struct {
	store *db.Store
	queue *queue.Queue
	conn  Connectivity
	orch  *Orchestrator // optional
}

// NewReporter creates a reporter. orch may be nil when nothing syncs in
// this process; last-sync times then come from the store.
func NewReporter(store *db.Store, q *queue.Queue, conn Connectivity, orch *Orchestrator) *Reporter {
	return &Reporter{store: store, queue: q, conn: conn, orch: orch}
}

// Status computes the current summary. On a storage error the fields that
// could be read are still returned.
func (r *Reporter) Status(ctx context.Context) (Status, error) {
	st := Status{IsOnline: r.conn.IsOnline()}

	if r.orch != nil {
		st.Syncing = r.orch.IsSyncing()
		lastSync, lastErr := r.orch.LastSync()
		st.LastSyncAt = lastSync
		if lastErr != nil {
			st.LastSyncError = lastErr.Error()
		}
		st.LastPullAt = r.orch.LastPull()
	}

	for _, table := range model.Tables {
		n, err := r.store.Count(ctx, table)
		if err != nil {
			return st, fmt.Errorf("failed to count %s: %w", table, err)
		}
		if n > 0 {
			st.HasCachedData = true
			break
		}
	}

	pending, err := r.queue.Len(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	st.PendingSyncCount = pending

	unsynced, err := r.store.CountByIndex(ctx, model.TableMessages, "synced", false)
	if err != nil {
		return st, fmt.Errorf("failed to count unsynced messages: %w", err)
	}
	st.UnsyncedMessagesCount = unsynced

	if st.LastSyncAt.IsZero() {
		st.LastSyncAt = r.persistedTime(ctx, stateLastSyncAt)
	}
	if st.LastPullAt.IsZero() {
		st.LastPullAt = r.persistedTime(ctx, stateLastPullAt)
	}
	return st, nil
}

func (r *Reporter) persistedTime(ctx context.Context, key string) time.Time {
	v, err := r.store.GetState(ctx, key)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
