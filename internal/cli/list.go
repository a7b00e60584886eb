package cli

import (
	"fmt"
	"strings"

	"github.com/existflow/irondesk/internal/model"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long: `List cached tasks. Works offline; pass --sync to refresh first.

Examples:
  irondesk list
  irondesk list --done
  irondesk list --assignee u-17 --sync`,
	RunE: runList,
}

var (
	listIncludeDone bool
	listAssignee    string
	listLead        string
	listSync        bool
)

func init() {
	listCmd.Flags().BoolVar(&listIncludeDone, "done", false, "Include completed tasks")
	listCmd.Flags().StringVar(&listAssignee, "assignee", "", "Only tasks assigned to this user id")
	listCmd.Flags().StringVar(&listLead, "lead", "", "Only tasks for this CRM lead id")
	listCmd.Flags().BoolVarP(&listSync, "sync", "s", false, "Sync with server before listing")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		maybeSync(ctx, a, listSync)

		tasks, err := a.tasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		tasks = filterTasks(tasks, listIncludeDone, listAssignee, listLead)

		if len(tasks) == 0 {
			fmt.Println("No tasks found. Add one with: irondesk add \"Your task\"")
			return nil
		}

		pending, _ := a.queue.Len(ctx)
		printTasks(tasks, pending)
		return nil
	})
}

func filterTasks(tasks []model.Task, includeDone bool, assignee, lead string) []model.Task {
	out := tasks[:0:0]
	for _, t := range tasks {
		if !includeDone && t.IsDone() {
			continue
		}
		if assignee != "" && t.AssigneeID != assignee {
			continue
		}
		if lead != "" && t.LeadID != lead {
			continue
		}
		out = append(out, t)
	}
	return out
}

func printTasks(tasks []model.Task, pendingSync int) {
	open := 0
	for _, t := range tasks {
		if !t.IsDone() {
			open++
		}
	}

	fmt.Printf("\n📋 Tasks (%d open", open)
	if pendingSync > 0 {
		fmt.Printf(", %d changes waiting to sync", pendingSync)
	}
	fmt.Println(")")
	fmt.Println(strings.Repeat("─", 60))

	for _, t := range tasks {
		printTask(t)
	}
	fmt.Println()
}

func printTask(t model.Task) {
	// Status icon
	icon := "[ ]"
	switch t.Status {
	case model.StatusDone:
		icon = "[x]"
	case model.StatusInProgress:
		icon = "[~]"
	}

	// Priority indicator
	priority := fmt.Sprintf("  P%d", t.Priority)
	if t.Priority == model.PriorityUrgent || t.Priority == model.PriorityHigh {
		priority = fmt.Sprintf("▲ P%d", t.Priority)
	}

	// Due date
	due := ""
	if t.DueDate != nil {
		due = t.DueDate.Format("Jan 2")
		if t.IsOverdue() {
			due = "!" + due
		}
	}

	// Truncate title if too long
	title := t.Title
	if len(title) > 40 {
		title = title[:37] + "..."
	}

	fmt.Printf("  %s  %-8s  %-40s  %-10s  %s\n", icon, shortID(t.ID), title, due, priority)
}
