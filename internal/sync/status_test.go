package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/model"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	return p.err
}

func TestStatusSummarizesStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	reporter := NewReporter(h.store, h.queue, h.monitor, h.orch)

	st, err := reporter.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.IsOnline)
	require.False(t, st.HasCachedData)
	require.Zero(t, st.PendingSyncCount)

	h.monitor.SetOnline(false)
	_, err = h.orch.CreateTask(ctx, model.Record{"title": "a"})
	require.NoError(t, err)
	_, err = h.orch.SendMessage(ctx, model.Record{"task_id": "t1", "content": "hi"})
	require.NoError(t, err)

	st, err = reporter.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.IsOnline)
	require.True(t, st.HasCachedData)
	require.Equal(t, 1, st.PendingSyncCount)
	require.Equal(t, 1, st.UnsyncedMessagesCount)
	require.True(t, st.LastSyncAt.IsZero())

	h.monitor.SetOnline(true)
	_, err = h.orch.SyncOfflineData(ctx)
	require.NoError(t, err)

	st, err = reporter.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, st.PendingSyncCount)
	require.Zero(t, st.UnsyncedMessagesCount)
	require.False(t, st.LastSyncAt.IsZero())
	require.Empty(t, st.LastSyncError)
}

func TestStatusFallsBackToPersistedTimes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})

	_, err := h.orch.FetchAndCacheData(ctx)
	require.NoError(t, err)

	// a reporter in another process has no orchestrator
	reporter := NewReporter(h.store, h.queue, h.monitor, nil)
	st, err := reporter.Status(ctx)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), st.LastPullAt, time.Minute)
}

func TestStatusStorageUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	reporter := NewReporter(h.store, h.queue, h.monitor, h.orch)
	require.NoError(t, h.store.Close())

	st, err := reporter.Status(context.Background())
	require.True(t, errors.Is(err, apperr.ErrStorageUnavailable))
	require.True(t, st.IsOnline)
}

func TestMonitorNotifiesOnChangeOnly(t *testing.T) {
	m := NewMonitor(nil, 0)
	var seen []bool
	unsubscribe := m.Subscribe(func(online bool) { seen = append(seen, online) })

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(false)
	m.SetOnline(true)
	require.Equal(t, []bool{false, true}, seen)

	unsubscribe()
	m.SetOnline(false)
	require.Len(t, seen, 2)
}

func TestMonitorProbe(t *testing.T) {
	p := &fakePinger{err: errors.New("connection refused")}
	m := NewMonitor(p, time.Second)

	require.False(t, m.Probe(context.Background()))
	require.False(t, m.IsOnline())

	p.err = nil
	require.True(t, m.Probe(context.Background()))
	require.True(t, m.IsOnline())
}
