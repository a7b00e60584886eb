package cli

import (
	"fmt"

	"github.com/existflow/irondesk/internal/model"
	"github.com/spf13/cobra"
)

var doneCmd = &cobra.Command{
	Use:   "done [task-id]",
	Short: "Mark a task as done",
	Long: `Mark a task as completed. A unique id prefix is enough.

Examples:
  irondesk done 3f2a9c1b
  irondesk done 3f2a --undo`,
	Args: cobra.ExactArgs(1),
	RunE: runDone,
}

var (
	doneUndo bool
	doneSync bool
)

func init() {
	doneCmd.Flags().BoolVar(&doneUndo, "undo", false, "Mark task as not done")
	doneCmd.Flags().BoolVarP(&doneSync, "sync", "s", false, "Sync with the server afterwards")
}

func runDone(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		task, err := a.findTask(ctx, args[0])
		if err != nil {
			return err
		}

		status := model.StatusDone
		if doneUndo {
			status = model.StatusTodo
		}
		if _, err := a.orch.UpdateTask(ctx, task.ID, model.Record{"status": status}); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if doneUndo {
			fmt.Printf("○ Reopened: \"%s\"\n", task.Title)
		} else {
			fmt.Printf("✓ Completed: \"%s\"\n", task.Title)
		}
		maybeSync(ctx, a, doneSync)
		return nil
	})
}
