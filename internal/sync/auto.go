package sync

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/logger"
)

// AutoSync runs the orchestrator in the background: a short drain timer,
// a longer snapshot refresh timer, and a drain whenever the device comes
// back online
type AutoSync struct {
	orch            *Orchestrator
	monitor         *Monitor
	drainInterval   time.Duration
	refreshInterval time.Duration
	log             *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
	onPull  func() // Callback after a successful pull
	onDrain func(DrainResult)
}

// NewAutoSync creates a scheduler; call Start to run it
func NewAutoSync(orch *Orchestrator, monitor *Monitor, drainInterval, refreshInterval time.Duration) *AutoSync {
	if drainInterval <= 0 {
		drainInterval = 5 * time.Second
	}
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	return &AutoSync{
		orch:            orch,
		monitor:         monitor,
		drainInterval:   drainInterval,
		refreshInterval: refreshInterval,
		log:             orch.log.WithFields(logger.F("scheduler", "auto")),
		trigger:         make(chan struct{}, 1),
	}
}

// SetOnPull sets a callback function to be called when remote changes are pulled
func (a *AutoSync) SetOnPull(callback func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPull = callback
}

// SetOnDrain sets a callback called after every drain pass that ran
func (a *AutoSync) SetOnDrain(callback func(DrainResult)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDrain = callback
}

// Start launches the background loops. Calling Start on a running
// scheduler does nothing.
func (a *AutoSync) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	unsubscribe := func() {}
	if a.monitor != nil {
		unsubscribe = a.monitor.Subscribe(func(online bool) {
			if online {
				a.TriggerSync()
			}
		})
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.monitor.Run(ctx)
		}()
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		a.drainLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.refreshLoop(ctx)
	}()

	a.log.Info("Auto sync started",
		logger.F("drain_interval", a.drainInterval.String()),
		logger.F("refresh_interval", a.refreshInterval.String()))
}

// Stop cancels the loops and waits for them to exit
func (a *AutoSync) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()
	a.log.Info("Auto sync stopped")
}

// TriggerSync asks the drain loop for an immediate pass. Triggers that
// arrive while one is pending are coalesced.
func (a *AutoSync) TriggerSync() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *AutoSync) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(a.drainInterval)
	defer ticker.Stop()

	// Initial refresh so a fresh start has data, then push what is pending
	a.runSafely("initial sync", func() {
		a.pull(ctx)
		a.drain(ctx)
	})

	for {
		select {
		case <-ticker.C:
			a.runSafely("drain", func() { a.drain(ctx) })
		case <-a.trigger:
			a.runSafely("drain", func() { a.drain(ctx) })
		case <-ctx.Done():
			return
		}
	}
}

func (a *AutoSync) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.runSafely("refresh", func() { a.pull(ctx) })
		case <-ctx.Done():
			return
		}
	}
}

func (a *AutoSync) drain(ctx context.Context) {
	result, err := a.orch.SyncOfflineData(ctx)
	if err != nil {
		if ctx.Err() == nil && !apperr.Is(err, apperr.CodeStorageUnavailable) {
			a.log.Warn("Drain failed", logger.F("error", err.Error()))
		}
		return
	}
	if result.Skipped {
		return
	}

	a.mu.Lock()
	callback := a.onDrain
	a.mu.Unlock()
	if callback != nil {
		callback(result)
	}
}

func (a *AutoSync) pull(ctx context.Context) {
	result, err := a.orch.FetchAndCacheData(ctx)
	if err != nil || result.Skipped {
		return
	}

	a.mu.Lock()
	callback := a.onPull
	a.mu.Unlock()
	if callback != nil {
		callback()
	}
}

// runSafely keeps a panicking pass from killing its timer loop
func (a *AutoSync) runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Recovered from panic in sync pass",
				logger.F("pass", name),
				logger.F("panic", fmt.Sprint(r)),
				logger.F("stack", string(debug.Stack())))
		}
	}()
	fn()
}
