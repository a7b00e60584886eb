package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/existflow/irondesk/internal/model"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a new task",
	Long: `Add a new task. The task is saved locally right away and queued for
the server.

Examples:
  irondesk add "Call the supplier"
  irondesk add "Quarterly review" -p 1 -d 2026-03-01
  irondesk add "Follow up" --lead lead-42 --sync`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addPriority    int
	addDue         string
	addDescription string
	addAssignee    string
	addLead        string
	addSync        bool
)

func init() {
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", model.PriorityLow, "Priority (1=urgent, 4=low)")
	addCmd.Flags().StringVarP(&addDue, "due", "d", "", "Due date (YYYY-MM-DD, 'today' or 'tomorrow')")
	addCmd.Flags().StringVar(&addDescription, "desc", "", "Description")
	addCmd.Flags().StringVar(&addAssignee, "assignee", "", "Assignee user id")
	addCmd.Flags().StringVar(&addLead, "lead", "", "CRM lead id")
	addCmd.Flags().BoolVarP(&addSync, "sync", "s", false, "Sync with the server after adding")
}

func runAdd(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")

	// Validate priority
	if addPriority < model.PriorityUrgent || addPriority > model.PriorityLow {
		addPriority = model.PriorityLow
	}

	task := model.NewTask("", title)
	task.Priority = addPriority
	task.Description = addDescription
	task.AssigneeID = addAssignee
	task.LeadID = addLead
	if addDue != "" {
		due, err := parseDue(addDue, time.Now())
		if err != nil {
			return err
		}
		task.DueDate = &due
	}

	return withApp(cmd.Context(), func(a *app) error {
		rec, err := a.orch.CreateTask(cmd.Context(), task.ToRecord().Without("id"))
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		fmt.Printf("✓ Added: \"%s\" (P%d) [%s]\n", title, addPriority, shortID(rec.ID()))
		maybeSync(cmd.Context(), a, addSync)
		return nil
	})
}

// parseDue accepts YYYY-MM-DD, RFC3339, "today" and "tomorrow"
func parseDue(s string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(s) {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
