package cli

import (
	"context"
	"fmt"

	"github.com/existflow/irondesk/internal/model"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the local cache",
	Long: `Clear cached tasks, messages and users from the local database. The
next sync downloads them again. Refuses while changes wait to be pushed
unless --force is given, since those changes would be lost.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().Bool("force", false, "Clear even if changes are queued, and do not ask")
}

func runClear(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		pending, err := a.queue.Len(ctx)
		if err != nil {
			return err
		}
		unsent, err := a.store.CountByIndex(ctx, model.TableMessages, model.FieldSynced, false)
		if err != nil {
			return err
		}

		if !force {
			if pending > 0 || unsent > 0 {
				return fmt.Errorf("%d queued changes and %d unsent messages would be lost; sync first or use --force", pending, unsent)
			}
			if !confirm("Are you sure you want to clear the local cache? (y/N): ") {
				fmt.Println("Aborted.")
				return nil
			}
		}

		fmt.Println("🧹 Clearing local data...")
		if err := clearLocal(ctx, a); err != nil {
			return fmt.Errorf("failed to clear local data: %w", err)
		}
		fmt.Println("Local data cleared.")
		return nil
	})
}

// clearLocal empties every collection and drops the queue
func clearLocal(ctx context.Context, a *app) error {
	for _, table := range model.Tables {
		if err := a.store.ReplaceAll(ctx, table, nil, nil); err != nil {
			return err
		}
	}

	items, err := a.queue.Drain(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := a.queue.Remove(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}
