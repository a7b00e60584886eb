package sync

import (
	"context"
	"sync"
	"time"

	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
)

// Monitor tracks whether the gateway is reachable. The host can report
// connectivity changes directly with SetOnline; Run also probes the
// gateway on an interval.
type Monitor struct {
	pinger   gateway.Pinger
	interval time.Duration
	log      *logger.Logger

	mu     sync.RWMutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// NewMonitor creates a monitor that starts online. pinger may be nil, in
// which case only SetOnline changes the state.
func NewMonitor(pinger gateway.Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		log:      logger.WithFields(logger.F("component", "connectivity")),
		online:   true,
		subs:     map[int]func(bool){},
	}
}

// IsOnline reports the last known connectivity
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records connectivity and notifies subscribers on a change
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []func(bool)
	if changed {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info("Connectivity changed", logger.F("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for connectivity changes and returns a function
// that removes it
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe pings the gateway once and updates the state
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.pinger == nil {
		return m.IsOnline()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	if err != nil && ctx.Err() != nil {
		return m.IsOnline()
	}
	if err != nil {
		m.log.Debug("Probe failed", logger.F("error", err.Error()))
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.pinger == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
