package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	isync "github.com/existflow/irondesk/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the server now",
	Long: `Pull fresh data from the server, then push every queued change.

Examples:
  irondesk sync           # Pull then push
  irondesk sync --pull    # Only refresh the local cache
  irondesk sync --push    # Only push queued changes`,
	RunE: runSync,
}

var (
	syncPullOnly bool
	syncPushOnly bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull", false, "Only refresh the local cache")
	syncCmd.Flags().BoolVar(&syncPushOnly, "push", false, "Only push queued changes")
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncPullOnly && syncPushOnly {
		return fmt.Errorf("cannot use both --pull and --push")
	}
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		if !a.monitor.Probe(ctx) {
			return fmt.Errorf("cannot reach %s: %w", a.cfg.ServerURL, apperr.ErrOffline)
		}

		switch {
		case syncPullOnly:
			fmt.Println("🔄 Refreshing local cache...")
			res, err := a.orch.FetchAndCacheData(ctx)
			printPull(res.Counts)
			if err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}
		case syncPushOnly:
			fmt.Println("🔄 Pushing queued changes...")
			res, err := a.orch.SyncOfflineData(ctx)
			printDrain(res)
			if err != nil {
				return fmt.Errorf("push failed: %w", err)
			}
		default:
			fmt.Println("🔄 Synchronizing...")
			res, err := a.orch.ForceSyncNow(ctx)
			printDrain(res)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
		}

		fmt.Println("✓ Sync complete")
		return nil
	})
}

// maybeSync runs a sync after a local change when requested. Failures
// are reported but never fail the command: the change is already queued.
func maybeSync(ctx context.Context, a *app, requested bool) {
	if !requested {
		return
	}

	fmt.Println("🔄 Syncing changes...")
	res, err := a.syncNow(ctx)
	if errors.Is(err, apperr.ErrOffline) {
		fmt.Println("⚠️  Offline, changes stay queued")
		return
	}
	if err != nil {
		logger.Warn("Sync after change failed", logger.F("error", err.Error()))
		fmt.Printf("⚠️  Sync failed: %v\n", err)
		return
	}
	printDrain(res)
}

func printDrain(res isync.DrainResult) {
	if res.Skipped {
		fmt.Println("  another sync is already running")
		return
	}
	fmt.Printf("  ↑ %d applied, %d retrying, %d abandoned, %d messages\n",
		res.Applied, res.Retried, res.Abandoned, res.MessagesSynced)
	if res.Held > 0 {
		fmt.Printf("  %d waiting behind a failed change\n", res.Held)
	}
}

func printPull(counts map[model.Table]int) {
	parts := make([]string, 0, len(counts))
	for _, table := range model.Tables {
		if n, ok := counts[table]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", table, n))
		}
	}
	if len(parts) > 0 {
		fmt.Printf("  ↓ %s\n", strings.Join(parts, " "))
	}
}

// confirm asks a yes/no question on stdin
func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
