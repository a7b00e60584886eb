// Package tui is the sync status dashboard: connectivity, pending work and
// the cached task list, with a few task actions.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	isync "github.com/existflow/irondesk/internal/sync"
)

// Backend is what the dashboard reads and drives
type Backend interface {
	Status(ctx context.Context) (isync.Status, error)
	Tasks(ctx context.Context) ([]model.Task, error)
	AddTask(ctx context.Context, title string) error
	ToggleDone(ctx context.Context, t model.Task) error
	DeleteTask(ctx context.Context, id string) error
	SyncNow(ctx context.Context) error
}

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAddTask
	ModeHelp
)

// Model is the dashboard model
type Model struct {
	backend Backend

	status    isync.Status
	statusErr error
	tasks     []model.Task
	loadedAt  time.Time

	// refresh is signalled from sync callbacks running on other goroutines
	refresh  chan struct{}
	onChange func()

	// UI state
	width   int
	height  int
	mode    Mode
	cursor  int
	syncing bool

	input   textinput.Model
	spinner spinner.Model

	message string
}

// NewModel creates a dashboard over backend
func NewModel(backend Backend) Model {
	logger.Info("Initializing dashboard model")

	ti := textinput.New()
	ti.Placeholder = "Enter task..."
	ti.CharLimit = 256
	ti.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SyncingStyle

	m := Model{
		backend: backend,
		refresh: make(chan struct{}, 1), // Buffered to avoid blocking
		mode:    ModeNormal,
		input:   ti,
		spinner: sp,
	}
	m.loadData()
	return m
}

// Notify asks the dashboard to reload. Safe from any goroutine.
func (m Model) Notify() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// SetOnChange registers a callback run after every local mutation, used to
// trigger an early sync
func (m *Model) SetOnChange(fn func()) {
	m.onChange = fn
}

func (m *Model) loadData() {
	ctx := context.Background()

	m.status, m.statusErr = m.backend.Status(ctx)
	tasks, err := m.backend.Tasks(ctx)
	if err != nil {
		logger.Warn("Failed to load tasks", logger.F("error", err.Error()))
		if m.statusErr == nil {
			m.statusErr = err
		}
	} else {
		m.tasks = tasks
	}
	if m.cursor >= len(m.tasks) {
		m.cursor = max(len(m.tasks)-1, 0)
	}
	m.loadedAt = time.Now()
}

func (m *Model) currentTask() *model.Task {
	if m.cursor < len(m.tasks) {
		return &m.tasks[m.cursor]
	}
	return nil
}

func (m *Model) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}
