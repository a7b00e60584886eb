// Package sync keeps the local store and the remote system of record in
// step: it replays queued mutations, pulls snapshots, and tracks
// connectivity and sync status.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/db"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	"github.com/existflow/irondesk/internal/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// sync_state keys
const (
	stateLastSyncAt = "last_sync_at"
	stateLastPullAt = "last_pull_at"
)

// Connectivity reports whether the device is online
type Connectivity interface {
	IsOnline() bool
}

// Options tunes the orchestrator
type Options struct {
	MaxRetries     int           // failed attempts before a queued mutation is abandoned
	RequestTimeout time.Duration // bound on every gateway call
	MessageLimit   int           // most recent messages kept by a pull
	Logger         *logger.Logger
}

// DefaultOptions returns the stock retry and timeout settings
func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		MessageLimit:   500,
	}
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	Applied        int  // queued mutations confirmed remotely
	Retried        int  // failed and kept for another attempt
	Abandoned      int  // failed for the last time and dropped
	Held           int  // left queued behind a failed item for the same record
	MessagesSynced int  // unsynced chat messages confirmed
	Skipped        bool // offline or another pass was running
}

// PullResult summarizes one snapshot pull
type PullResult struct {
	Counts  map[model.Table]int // records written per collection
	Skipped bool
}

// Orchestrator drains the sync queue and refreshes the local cache
type Orchestrator struct {
	store *db.Store
	queue *queue.Queue
	gw    gateway.Gateway
	conn  Connectivity
	opts  Options
	log   *logger.Logger
	now   func() time.Time

	syncMu  sync.Mutex
	syncing bool

	pullMu  sync.Mutex
	pulling bool

	stateMu     sync.RWMutex
	lastSyncAt  time.Time
	lastSyncErr error
	lastPullAt  time.Time
}

// New creates an orchestrator. Zero option fields take their defaults.
func New(store *db.Store, q *queue.Queue, gw gateway.Gateway, conn Connectivity, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = defaults.MessageLimit
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Orchestrator{
		store: store,
		queue: q,
		gw:    gw,
		conn:  conn,
		opts:  opts,
		log:   log.WithFields(logger.F("component", "sync")),
		now:   time.Now,
	}
}

// IsSyncing reports whether a drain pass is running
func (o *Orchestrator) IsSyncing() bool {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()
	return o.syncing
}

func (o *Orchestrator) beginSync() bool {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()
	if o.syncing {
		return false
	}
	o.syncing = true
	return true
}

func (o *Orchestrator) endSync() {
	o.syncMu.Lock()
	o.syncing = false
	o.syncMu.Unlock()
}

// SyncOfflineData replays the queue in order, then pushes chat messages
// that were written with synced=false. It is a no-op while offline or
// while another pass runs.
func (o *Orchestrator) SyncOfflineData(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	if !o.conn.IsOnline() {
		o.log.Debug("Skipping drain, device is offline")
		result.Skipped = true
		return result, nil
	}
	if !o.beginSync() {
		o.log.Debug("Skipping drain, already syncing")
		result.Skipped = true
		return result, nil
	}
	defer o.endSync()

	err := o.drain(ctx, &result)
	if err == nil {
		err = o.pushUnsyncedMessages(ctx, &result)
	}
	o.recordSync(ctx, err)

	if err != nil {
		return result, err
	}

	if result.Applied+result.Retried+result.Abandoned+result.Held+result.MessagesSynced > 0 {
		o.log.Info("Drain completed",
			logger.F("applied", result.Applied),
			logger.F("retried", result.Retried),
			logger.F("abandoned", result.Abandoned),
			logger.F("held", result.Held),
			logger.F("messages", result.MessagesSynced))
	}
	return result, nil
}

func (o *Orchestrator) drain(ctx context.Context, result *DrainResult) error {
	items, err := o.queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync queue: %w", err)
	}

	// records with a failed item this pass; their later items wait so a
	// record's mutations reach the server in enqueue order
	failed := map[string]bool{}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := string(item.Table) + "/" + item.RecordID()
		if failed[key] {
			o.log.Debug("Holding queued mutation behind failed item",
				logger.F("item_id", item.ID),
				logger.F("table", item.Table),
				logger.F("record_id", item.RecordID()))
			result.Held++
			continue
		}

		callErr := o.call(ctx, func(callCtx context.Context) error {
			return gateway.Apply(callCtx, o.gw, item)
		})

		if callErr == nil {
			if err := o.queue.Remove(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to dequeue %s: %w", item.ID, err)
			}
			result.Applied++
			continue
		}

		// a cancelled pass is not a failed attempt
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failed[key] = true

		retries, err := o.queue.IncrementRetries(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to record retry for %s: %w", item.ID, err)
		}

		fields := []logger.Field{
			logger.F("item_id", item.ID),
			logger.F("op", item.Type),
			logger.F("table", item.Table),
			logger.F("record_id", item.RecordID()),
			logger.F("retries", retries),
			logger.F("error", callErr.Error()),
		}

		if retries >= o.opts.MaxRetries {
			if err := o.queue.Remove(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to drop %s: %w", item.ID, err)
			}
			o.log.Warn("Abandoning queued mutation after repeated failures", fields...)
			result.Abandoned++
			continue
		}

		o.log.Info("Queued mutation failed, will retry", fields...)
		result.Retried++
	}
	return nil
}

func (o *Orchestrator) pushUnsyncedMessages(ctx context.Context, result *DrainResult) error {
	msgs, err := o.store.GetAllByIndex(ctx, model.TableMessages, "synced", false)
	if err != nil {
		return fmt.Errorf("failed to scan unsynced messages: %w", err)
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var confirmed model.Record
		callErr := o.call(ctx, func(callCtx context.Context) error {
			var err error
			confirmed, err = o.gw.Insert(callCtx, model.TableMessages, msg.Without(model.FieldSynced))
			return err
		})
		if callErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Info("Unsynced message not confirmed, will retry",
				logger.F("record_id", msg.ID()),
				logger.F("error", callErr.Error()))
			continue
		}

		if confirmed.ID() != msg.ID() {
			confirmed = msg
		}
		confirmed = confirmed.Merge(model.Record{model.FieldSynced: true})
		if err := o.store.Put(ctx, model.TableMessages, confirmed); err != nil {
			return fmt.Errorf("failed to mark message %s synced: %w", msg.ID(), err)
		}
		result.MessagesSynced++
	}
	return nil
}

// call runs one gateway request under the per-request timeout
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !apperr.Is(err, apperr.CodeTimeout) {
		return apperr.Wrap(apperr.CodeTimeout, "gateway call timed out", err)
	}
	return err
}

func (o *Orchestrator) recordSync(ctx context.Context, err error) {
	now := o.now()

	o.stateMu.Lock()
	o.lastSyncErr = err
	if err == nil {
		o.lastSyncAt = now
	}
	o.stateMu.Unlock()

	if err != nil {
		if apperr.Is(err, apperr.CodeStorageUnavailable) {
			o.log.Warn("Drain aborted, local storage unavailable", logger.F("error", err.Error()))
		}
		return
	}
	if serr := o.store.SetState(ctx, stateLastSyncAt, model.Timestamp(now)); serr != nil {
		o.log.Debug("Failed to persist last sync time", logger.F("error", serr.Error()))
	}
}

// FetchAndCacheData pulls a snapshot of every collection and replaces the
// local copies. Collections are fetched concurrently and applied
// independently: a failed fetch leaves that collection untouched.
func (o *Orchestrator) FetchAndCacheData(ctx context.Context) (PullResult, error) {
	result := PullResult{Counts: map[model.Table]int{}}

	if !o.conn.IsOnline() {
		o.log.Debug("Skipping pull, device is offline")
		result.Skipped = true
		return result, nil
	}

	o.pullMu.Lock()
	if o.pulling {
		o.pullMu.Unlock()
		o.log.Debug("Skipping pull, already pulling")
		result.Skipped = true
		return result, nil
	}
	o.pulling = true
	o.pullMu.Unlock()
	defer func() {
		o.pullMu.Lock()
		o.pulling = false
		o.pullMu.Unlock()
	}()

	queries := map[model.Table]gateway.Query{
		model.TableTasks:    {OrderBy: "updated_at", Descending: true},
		model.TableMessages: {OrderBy: "created_at", Descending: true, Limit: o.opts.MessageLimit},
		model.TableUsers:    {OrderBy: "name"},
	}

	snapshots := make([][]model.Record, len(model.Tables))
	fetchErrs := make([]error, len(model.Tables))

	var g errgroup.Group
	for i, table := range model.Tables {
		g.Go(func() error {
			var recs []model.Record
			err := o.call(ctx, func(callCtx context.Context) error {
				var err error
				recs, err = o.gw.SelectAll(callCtx, table, queries[table])
				return err
			})
			if err != nil {
				fetchErrs[i] = fmt.Errorf("failed to fetch %s: %w", table, err)
				return fetchErrs[i]
			}
			snapshots[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, table := range model.Tables {
		if fetchErrs[i] != nil {
			o.log.Warn("Pull failed, keeping cached copy",
				logger.F("table", table),
				logger.F("error", fetchErrs[i].Error()))
			errs = append(errs, fetchErrs[i])
			continue
		}

		if err := o.replace(ctx, table, snapshots[i]); err != nil {
			o.log.Warn("Failed to cache snapshot",
				logger.F("table", table),
				logger.F("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		result.Counts[table] = len(snapshots[i])
	}

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	now := o.now()
	o.stateMu.Lock()
	o.lastPullAt = now
	o.stateMu.Unlock()
	if err := o.store.SetState(ctx, stateLastPullAt, model.Timestamp(now)); err != nil {
		o.log.Debug("Failed to persist last pull time", logger.F("error", err.Error()))
	}

	o.log.Debug("Pull completed",
		logger.F("tasks", result.Counts[model.TableTasks]),
		logger.F("messages", result.Counts[model.TableMessages]),
		logger.F("users", result.Counts[model.TableUsers]))
	return result, nil
}

// replace writes a snapshot. Messages still waiting for their first
// confirmation survive; everything else mirrors the remote exactly.
func (o *Orchestrator) replace(ctx context.Context, table model.Table, recs []model.Record) error {
	if table != model.TableMessages {
		return o.store.ReplaceAll(ctx, table, recs, nil)
	}

	confirmed := make([]model.Record, 0, len(recs))
	for _, rec := range recs {
		confirmed = append(confirmed, rec.Merge(model.Record{model.FieldSynced: true}))
	}
	return o.store.ReplaceAll(ctx, table, confirmed, model.IsUnsynced)
}

// ForceSyncNow pulls then drains. Unlike the timers it fails loudly when
// the device is offline.
func (o *Orchestrator) ForceSyncNow(ctx context.Context) (DrainResult, error) {
	if !o.conn.IsOnline() {
		return DrainResult{}, apperr.ErrOffline
	}

	_, pullErr := o.FetchAndCacheData(ctx)
	if pullErr != nil && ctx.Err() != nil {
		return DrainResult{}, pullErr
	}
	result, drainErr := o.SyncOfflineData(ctx)
	return result, errors.Join(pullErr, drainErr)
}

// LastSync returns the time of the last successful drain and the error of
// the most recent one
func (o *Orchestrator) LastSync() (time.Time, error) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.lastSyncAt, o.lastSyncErr
}

// LastPull returns the time of the last fully successful pull
func (o *Orchestrator) LastPull() time.Time {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.lastPullAt
}

// Mutate writes a change to the local cache and queues it for replay, in
// one local transaction. Updates merge patch into the cached record; the
// queued payload carries only the patch.
func (o *Orchestrator) Mutate(ctx context.Context, op model.OpType, table model.Table, data model.Record) (model.Record, error) {
	if !table.Queueable() {
		return nil, apperr.New(apperr.CodeInvalid, fmt.Sprintf("table %q is read-only", table))
	}
	if err := data.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalid, "invalid mutation", err)
	}

	id := data.ID()
	var local model.Record
	err := o.store.Update(ctx, func(tx *db.Tx) error {
		switch op {
		case model.OpCreate:
			local = data.Clone()
			if err := tx.Put(table, local); err != nil {
				return err
			}
		case model.OpUpdate:
			existing, err := tx.Get(table, id)
			if err != nil {
				return err
			}
			local = existing.Merge(data)
			if err := tx.Put(table, local); err != nil {
				return err
			}
		case model.OpDelete:
			if err := tx.Delete(table, id); err != nil {
				return err
			}
		default:
			return apperr.New(apperr.CodeInvalid, fmt.Sprintf("unknown operation %q", op))
		}

		_, err := o.queue.EnqueueTx(tx, op, table, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s %s: %w", op, table, id, err)
	}

	o.log.Debug("Queued local mutation",
		logger.F("op", op),
		logger.F("table", table),
		logger.F("record_id", id))
	return local, nil
}

// CreateTask stores a new task locally and queues its creation
func (o *Orchestrator) CreateTask(ctx context.Context, rec model.Record) (model.Record, error) {
	rec = rec.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.New().String()
	}
	now := model.Timestamp(o.now())
	if rec.String("created_at") == "" {
		rec["created_at"] = now
	}
	rec["updated_at"] = now
	return o.Mutate(ctx, model.OpCreate, model.TableTasks, rec)
}

// UpdateTask patches a cached task and queues the patch
func (o *Orchestrator) UpdateTask(ctx context.Context, id string, patch model.Record) (model.Record, error) {
	patch = patch.Merge(model.Record{
		"id":         id,
		"updated_at": model.Timestamp(o.now()),
	})
	return o.Mutate(ctx, model.OpUpdate, model.TableTasks, patch)
}

// DeleteTask removes a cached task and queues the deletion
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) error {
	_, err := o.Mutate(ctx, model.OpDelete, model.TableTasks, model.Record{"id": id})
	return err
}

// SendMessage stores a chat message with synced=false. It bypasses the
// queue; the next drain pushes it.
func (o *Orchestrator) SendMessage(ctx context.Context, rec model.Record) (model.Record, error) {
	rec = rec.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.New().String()
	}
	if rec.String("created_at") == "" {
		rec["created_at"] = model.Timestamp(o.now())
	}
	rec[model.FieldSynced] = false

	if err := o.store.Put(ctx, model.TableMessages, rec); err != nil {
		return nil, fmt.Errorf("failed to store message %s: %w", rec.ID(), err)
	}
	return rec, nil
}
