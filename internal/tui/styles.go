package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	// Priority colors
	PriorityUrgent = lipgloss.Color("#FF6B6B") // P1 - Red
	PriorityHigh   = lipgloss.Color("#FFB347") // P2 - Orange
	PriorityMedium = lipgloss.Color("#FFE66D") // P3 - Yellow
	PriorityLow    = lipgloss.Color("#4ECDC4") // P4 - Blue

	// Sync colors
	SyncOK      = lipgloss.Color("#95E1A3") // Green
	SyncPending = lipgloss.Color("#FFE66D") // Yellow
	SyncError   = lipgloss.Color("#FF6B6B") // Red
	Offline     = lipgloss.Color("#6C757D") // Gray

	// UI colors
	Primary   = lipgloss.Color("#4ECDC4")
	Surface   = lipgloss.Color("#16213e")
	TextMuted = lipgloss.Color("#888888")
	Border    = lipgloss.Color("#333333")
)

// Styles
var (
	// Sidebar holds the sync panel
	SidebarStyle = lipgloss.NewStyle().
			Width(30).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(Border).
			Padding(1, 1)

	// Task list
	TaskListStyle = lipgloss.NewStyle().
			Padding(1, 2)

	// Task item
	TaskItemStyle = lipgloss.NewStyle().
			Padding(0, 1)

	TaskItemSelectedStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Background(Surface).
				Bold(true)

	TaskDoneStyle = lipgloss.NewStyle().
			Foreground(TextMuted).
			Strikethrough(true).
			Padding(0, 1)

	// Connectivity badges
	OnlineStyle  = lipgloss.NewStyle().Foreground(SyncOK).Bold(true)
	OfflineStyle = lipgloss.NewStyle().Foreground(Offline).Bold(true)
	PendingStyle = lipgloss.NewStyle().Foreground(SyncPending)
	ErrorStyle   = lipgloss.NewStyle().Foreground(SyncError)
	SyncingStyle = lipgloss.NewStyle().Foreground(Primary)

	// Priority badges
	PriorityP1Style = lipgloss.NewStyle().Foreground(PriorityUrgent).Bold(true)
	PriorityP2Style = lipgloss.NewStyle().Foreground(PriorityHigh).Bold(true)
	PriorityP3Style = lipgloss.NewStyle().Foreground(PriorityMedium)
	PriorityP4Style = lipgloss.NewStyle().Foreground(PriorityLow)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextMuted).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(Border)

	// Input modal
	ModalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2)

	// Help text
	HelpStyle = lipgloss.NewStyle().
			Foreground(TextMuted)
)

// FormatPriority returns a colored priority badge
func FormatPriority(priority int) string {
	switch priority {
	case 1:
		return PriorityP1Style.Render("P1")
	case 2:
		return PriorityP2Style.Render("P2")
	case 3:
		return PriorityP3Style.Render("P3")
	default:
		return PriorityP4Style.Render("P4")
	}
}
