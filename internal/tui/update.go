package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/logger"
)

// pollInterval bounds how stale the dashboard gets without sync callbacks
const pollInterval = 2 * time.Second

// tickMsg is sent on every poll
type tickMsg time.Time

// syncRefreshMsg is sent when a background pass finished
type syncRefreshMsg struct{}

// syncDoneMsg carries the result of a manual sync
type syncDoneMsg struct {
	err error
}

// Init starts polling, the refresh listener and the spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForSyncRefresh(), m.spinner.Tick)
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForSyncRefresh listens for sync refresh signals
func (m Model) waitForSyncRefresh() tea.Cmd {
	return func() tea.Msg {
		<-m.refresh
		return syncRefreshMsg{}
	}
}

func (m Model) syncCmd() tea.Cmd {
	return func() tea.Msg {
		return syncDoneMsg{err: m.backend.SyncNow(context.Background())}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.loadData()
		return m, tickCmd()

	case syncRefreshMsg:
		m.loadData()
		return m, m.waitForSyncRefresh()

	case syncDoneMsg:
		m.syncing = false
		m.message = syncMessage(msg.err)
		if msg.err != nil {
			logger.Warn("Manual sync failed", logger.F("error", msg.err.Error()))
		}
		m.loadData()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		// Handle mode-specific input
		switch m.mode {
		case ModeAddTask:
			return m.updateInput(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}

		// Normal mode key handling
		return m.handleNormalKeys(msg)
	}

	return m, nil
}

func syncMessage(err error) string {
	switch {
	case err == nil:
		return "Synced"
	case errors.Is(err, apperr.ErrOffline):
		return "Offline, changes stay queued"
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return "Local storage unavailable"
	default:
		return fmt.Sprintf("Sync failed: %v", err)
	}
}

// handleNormalKeys handles key presses in normal mode
func (m Model) handleNormalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Add):
		return m.startAddTask()

	case key.Matches(msg, keys.Done):
		m.handleToggleDone()

	case key.Matches(msg, keys.Delete):
		m.handleDelete()

	case key.Matches(msg, keys.Sync):
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.message = "Syncing..."
		return m, m.syncCmd()

	case key.Matches(msg, keys.Help):
		m.mode = ModeHelp
	}

	return m, nil
}

func (m Model) startAddTask() (tea.Model, tea.Cmd) {
	m.mode = ModeAddTask
	m.input.SetValue("")
	m.input.Focus()
	return m, textinput.Blink
}

func (m *Model) handleToggleDone() {
	task := m.currentTask()
	if task == nil {
		return
	}
	if err := m.backend.ToggleDone(context.Background(), *task); err != nil {
		m.message = fmt.Sprintf("Error updating task: %v", err)
		return
	}

	if task.IsDone() {
		m.message = fmt.Sprintf("Reopened: %s", task.Title)
	} else {
		m.message = fmt.Sprintf("Completed: %s", task.Title)
	}
	m.changed()
	m.loadData()
}

func (m *Model) handleDelete() {
	task := m.currentTask()
	if task == nil {
		return
	}
	title := task.Title
	if err := m.backend.DeleteTask(context.Background(), task.ID); err != nil {
		m.message = fmt.Sprintf("Error deleting task: %v", err)
		return
	}

	m.message = fmt.Sprintf("Deleted: %s", title)
	m.changed()
	m.loadData()
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil

	case key.Matches(msg, keys.Enter):
		value := m.input.Value()
		m.mode = ModeNormal
		m.input.Blur()
		if value == "" {
			return m, nil
		}

		if err := m.backend.AddTask(context.Background(), value); err != nil {
			m.message = fmt.Sprintf("Error adding task: %v", err)
			return m, nil
		}
		m.message = fmt.Sprintf("Added: %s", value)
		m.changed()
		m.loadData()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
