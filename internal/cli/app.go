package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/config"
	"github.com/existflow/irondesk/internal/db"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	"github.com/existflow/irondesk/internal/queue"
	isync "github.com/existflow/irondesk/internal/sync"
)

// app wires the local store, the queue and the sync engine for one command
type app struct {
	cfg      *config.Config
	store    *db.Store
	queue    *queue.Queue
	gw       *gateway.HTTPClient
	monitor  *isync.Monitor
	orch     *isync.Orchestrator
	reporter *isync.Reporter
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	q := queue.New(store)
	gw := gateway.NewHTTPClient(cfg.ServerURL, cfg.APIToken, cfg.RequestTimeout)
	monitor := isync.NewMonitor(gw, cfg.ProbeInterval)
	orch := isync.New(store, q, gw, monitor, isync.Options{
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		MessageLimit:   cfg.MessageLimit,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		queue:    q,
		gw:       gw,
		monitor:  monitor,
		orch:     orch,
		reporter: isync.NewReporter(store, q, monitor, orch),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close database", logger.F("error", err.Error()))
	}
}

// syncNow probes the server and runs a pull followed by a drain
func (a *app) syncNow(ctx context.Context) (isync.DrainResult, error) {
	if !a.monitor.Probe(ctx) {
		return isync.DrainResult{}, apperr.ErrOffline
	}
	return a.orch.ForceSyncNow(ctx)
}

// tasks returns cached tasks, open ones first, then by priority and age
func (a *app) tasks(ctx context.Context) ([]model.Task, error) {
	recs, err := a.store.GetAll(ctx, model.TableTasks)
	if err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(recs))
	for _, rec := range recs {
		t, err := model.TaskFromRecord(rec)
		if err != nil {
			logger.Warn("Skipping unreadable task", logger.F("error", err.Error()))
			continue
		}
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		t1, t2 := tasks[i], tasks[j]
		if t1.IsDone() != t2.IsDone() {
			return !t1.IsDone()
		}
		if t1.Priority != t2.Priority {
			return t1.Priority < t2.Priority
		}
		return t1.CreatedAt.After(t2.CreatedAt)
	})
}

// findTask resolves a full id or a unique id prefix
func (a *app) findTask(ctx context.Context, idOrPrefix string) (model.Task, error) {
	rec, err := a.store.Get(ctx, model.TableTasks, idOrPrefix)
	if err == nil {
		return model.TaskFromRecord(rec)
	}
	if !apperr.Is(err, apperr.CodeNotFound) {
		return model.Task{}, err
	}

	tasks, err := a.tasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	var matches []model.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, idOrPrefix) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return model.Task{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("task not found: %s", idOrPrefix))
	case 1:
		return matches[0], nil
	default:
		return model.Task{}, apperr.New(apperr.CodeInvalid,
			fmt.Sprintf("id prefix %q matches %d tasks", idOrPrefix, len(matches)))
	}
}

// The methods below let the status dashboard drive the app

func (a *app) Status(ctx context.Context) (isync.Status, error) {
	return a.reporter.Status(ctx)
}

func (a *app) Tasks(ctx context.Context) ([]model.Task, error) {
	return a.tasks(ctx)
}

func (a *app) AddTask(ctx context.Context, title string) error {
	_, err := a.orch.CreateTask(ctx, model.NewTask("", title).ToRecord().Without("id"))
	return err
}

func (a *app) ToggleDone(ctx context.Context, t model.Task) error {
	status := model.StatusDone
	if t.IsDone() {
		status = model.StatusTodo
	}
	_, err := a.orch.UpdateTask(ctx, t.ID, model.Record{"status": status})
	return err
}

func (a *app) DeleteTask(ctx context.Context, id string) error {
	return a.orch.DeleteTask(ctx, id)
}

func (a *app) SyncNow(ctx context.Context) error {
	_, err := a.syncNow(ctx)
	return err
}
