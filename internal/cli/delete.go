package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [task-id]",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Long: `Delete a task by its id or a unique id prefix.

Examples:
  irondesk delete 3f2a9c1b
  irondesk rm 3f2a -y`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var (
	deleteYes  bool
	deleteSync bool
)

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")
	deleteCmd.Flags().BoolVarP(&deleteSync, "sync", "s", false, "Sync with the server afterwards")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		task, err := a.findTask(ctx, args[0])
		if err != nil {
			return err
		}

		if !deleteYes {
			fmt.Printf("About to delete: \"%s\" (ID: %s)\n", task.Title, task.ID)
			if !confirm("Are you sure? [y/N]: ") {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := a.orch.DeleteTask(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		fmt.Printf("🗑️  Deleted: \"%s\"\n", task.Title)
		maybeSync(ctx, a, deleteSync)
		return nil
	})
}
