package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/db"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	"github.com/existflow/irondesk/internal/queue"
	"github.com/stretchr/testify/require"
)

var errUnavailable = apperr.New(apperr.CodeRemote, "server returned 503")

// fakeGateway is an in-memory system of record with scripted failures
type fakeGateway struct {
	mu         sync.Mutex
	calls      []string
	failures   map[string]int // "op id" -> failures left
	alwaysFail map[string]bool
	records    map[model.Table]map[string]model.Record
	selectErr  map[model.Table]error
	queries    map[model.Table]gateway.Query

	block   chan struct{} // when set, every call waits on it or ctx
	entered chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failures:   map[string]int{},
		alwaysFail: map[string]bool{},
		records:    map[model.Table]map[string]model.Record{},
		selectErr:  map[model.Table]error{},
		queries:    map[model.Table]gateway.Query{},
	}
}

func (g *fakeGateway) failNext(op, id string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op+" "+id] = n
}

func (g *fakeGateway) failAlways(op, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alwaysFail[op+" "+id] = true
}

func (g *fakeGateway) seed(table model.Table, recs ...model.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[table] = map[string]model.Record{}
	for _, r := range recs {
		g.records[table][r.ID()] = r.Clone()
	}
}

func (g *fakeGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) countCalls(call string) int {
	n := 0
	for _, c := range g.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (g *fakeGateway) record(table model.Table, id string) (model.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[table][id]
	return r, ok
}

// begin logs the call, waits when blocked, and reports a scripted failure
func (g *fakeGateway) begin(ctx context.Context, op string, table model.Table, id string) error {
	g.mu.Lock()
	g.calls = append(g.calls, fmt.Sprintf("%s %s %s", op, table, id))
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	key := op + " " + id
	if g.alwaysFail[key] {
		return errUnavailable
	}
	if g.failures[key] > 0 {
		g.failures[key]--
		return errUnavailable
	}
	return nil
}

// wait parks the caller while block is set
func (g *fakeGateway) wait(ctx context.Context) error {
	g.mu.Lock()
	block, entered := g.block, g.entered
	g.mu.Unlock()

	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (g *fakeGateway) Insert(ctx context.Context, table model.Table, rec model.Record) (model.Record, error) {
	if err := g.begin(ctx, "insert", table, rec.ID()); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.records[table] == nil {
		g.records[table] = map[string]model.Record{}
	}
	if existing, ok := g.records[table][rec.ID()]; ok {
		return existing.Clone(), nil
	}
	g.records[table][rec.ID()] = rec.Clone()
	return rec.Clone(), nil
}

func (g *fakeGateway) Update(ctx context.Context, table model.Table, id string, patch model.Record) (model.Record, error) {
	if err := g.begin(ctx, "update", table, id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.records[table][id]
	if !ok {
		existing = model.Record{"id": id}
		if g.records[table] == nil {
			g.records[table] = map[string]model.Record{}
		}
	}
	merged := existing.Merge(patch)
	g.records[table][id] = merged
	return merged.Clone(), nil
}

func (g *fakeGateway) Delete(ctx context.Context, table model.Table, id string) error {
	if err := g.begin(ctx, "delete", table, id); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records[table], id)
	return nil
}

func (g *fakeGateway) SelectAll(ctx context.Context, table model.Table, q gateway.Query) ([]model.Record, error) {
	g.mu.Lock()
	g.calls = append(g.calls, fmt.Sprintf("select %s", table))
	g.queries[table] = q
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.selectErr[table]; err != nil {
		return nil, err
	}

	recs := []model.Record{}
	for _, r := range g.records[table] {
		recs = append(recs, r.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID() < recs[j].ID() })
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

// syncBuffer is a goroutine-safe log sink
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	store   *db.Store
	queue   *queue.Queue
	gw      *fakeGateway
	monitor *Monitor
	orch    *Orchestrator
	logs    *syncBuffer
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "irondesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logs := &syncBuffer{}
	log, err := logger.New(logger.Config{Level: logger.DEBUG, Output: logs})
	require.NoError(t, err)
	opts.Logger = log

	h := &harness{
		store:   store,
		queue:   queue.New(store),
		gw:      newFakeGateway(),
		monitor: NewMonitor(nil, 0),
		logs:    logs,
	}
	h.orch = New(store, h.queue, h.gw, h.monitor, opts)
	return h
}

func (h *harness) enqueue(t *testing.T, op model.OpType, table model.Table, data model.Record) model.SyncQueueItem {
	t.Helper()
	item, err := h.queue.Enqueue(context.Background(), op, table, data)
	require.NoError(t, err)
	return item
}

func (h *harness) queueLen(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func ids(recs []model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
