package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/existflow/irondesk/internal/model"
)

const sidebarWidth = 30

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	// Build the layout
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), m.renderTaskList())

	switch m.mode {
	case ModeAddTask:
		mainContent = lipgloss.Place(
			m.width, m.height-2,
			lipgloss.Center, lipgloss.Center,
			m.renderModal(),
			lipgloss.WithWhitespaceChars(" "),
		)
	case ModeHelp:
		mainContent = m.renderHelp()
	}

	// Combine with status bar
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, m.renderStatusBar())
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	st := m.status

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(Primary).Render("irondesk") + "\n")
	b.WriteString(HelpStyle.Render(m.loadedAt.Format("15:04:05")) + "\n")
	b.WriteString(lipgloss.NewStyle().Foreground(Border).Render(strings.Repeat("─", sidebarWidth-4)) + "\n\n")

	if st.IsOnline {
		b.WriteString(OnlineStyle.Render("● online") + "\n")
	} else {
		b.WriteString(OfflineStyle.Render("○ offline") + "\n")
	}
	if m.syncing || st.Syncing {
		b.WriteString(m.spinner.View() + " syncing\n")
	}
	b.WriteString("\n")

	pending := fmt.Sprintf("%d queued", st.PendingSyncCount)
	if st.PendingSyncCount > 0 {
		pending = PendingStyle.Render(pending)
	}
	unsent := fmt.Sprintf("%d unsent", st.UnsyncedMessagesCount)
	if st.UnsyncedMessagesCount > 0 {
		unsent = PendingStyle.Render(unsent)
	}
	b.WriteString("Changes   " + pending + "\n")
	b.WriteString("Messages  " + unsent + "\n\n")

	b.WriteString("Last push     " + since(st.LastSyncAt, m.loadedAt) + "\n")
	b.WriteString("Last refresh  " + since(st.LastPullAt, m.loadedAt) + "\n")

	if st.LastSyncError != "" {
		b.WriteString("\n" + ErrorStyle.Render(truncate(st.LastSyncError, sidebarWidth-4)) + "\n")
	}
	if m.statusErr != nil {
		b.WriteString("\n" + ErrorStyle.Render(truncate(m.statusErr.Error(), sidebarWidth-4)) + "\n")
	}
	if !st.HasCachedData {
		b.WriteString("\n" + HelpStyle.Render("No cached data yet") + "\n")
	}

	return SidebarStyle.Width(sidebarWidth).Height(m.height - 2).Render(b.String())
}

func (m Model) renderTaskList() string {
	width := m.width - sidebarWidth - 2
	var b strings.Builder

	open := 0
	for _, t := range m.tasks {
		if !t.IsDone() {
			open++
		}
	}
	header := fmt.Sprintf("Tasks (%d open)", open)
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(Primary).Render(header) + "\n")
	b.WriteString(lipgloss.NewStyle().Foreground(Border).Render(strings.Repeat("─", max(width-4, 0))) + "\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(HelpStyle.Render("  No tasks. Press 'a' to add one."))
	}

	for i, t := range m.tasks {
		cursor := "  "
		style := TaskItemStyle
		if i == m.cursor {
			cursor = "❯ "
			style = TaskItemSelectedStyle
		}

		icon := "[ ]"
		switch t.Status {
		case model.StatusDone:
			icon = "[x]"
			style = TaskDoneStyle
		case model.StatusInProgress:
			icon = "[~]"
		}

		titleWidth := max(width-30, 10)
		check := style.Render(cursor + icon)
		desc := style.Render(fmt.Sprintf(" %-*s ", titleWidth, truncate(t.Title, titleWidth)))

		b.WriteString(check + desc + FormatPriority(t.Priority) + "\n")
	}

	return TaskListStyle.Width(width).Height(m.height - 2).Render(b.String())
}

func (m Model) renderStatusBar() string {
	help := "a:add  x:done  d:del  s:sync  ?:help  q:quit"
	if m.message != "" {
		help = m.message
	}
	return StatusBarStyle.Width(m.width).Render(help)
}

func (m Model) renderModal() string {
	content := lipgloss.NewStyle().Bold(true).Render("Add Task") + "\n\n"
	content += m.input.View() + "\n\n"
	content += HelpStyle.Render("Enter:save  Esc:cancel")

	return ModalStyle.Render(content)
}

func (m Model) renderHelp() string {
	help := `
╭─── Keyboard Shortcuts ───╮
│                          │
│  j/↓     Move down       │
│  k/↑     Move up         │
│  a       Add task        │
│  x/Space Toggle done     │
│  d       Delete          │
│  s       Sync now        │
│  ?       Toggle help     │
│  q       Quit            │
│                          │
╰──────────────────────────╯

     Press any key to close
`
	return lipgloss.Place(m.width, m.height-2, lipgloss.Center, lipgloss.Center, help)
}

// since renders how long ago t was, relative to now
func since(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2 15:04")
	}
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, n int) string {
	if len(s) <= n || n < 4 {
		return s
	}
	return s[:n-3] + "..."
}
