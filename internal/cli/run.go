package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/existflow/irondesk/internal/logger"
	isync "github.com/existflow/irondesk/internal/sync"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep syncing in the foreground",
	Long: `Run the background sync loops until interrupted: queued changes are
pushed on every drain interval and whenever the server comes back, and the
local cache is refreshed on every refresh interval.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		auto := isync.NewAutoSync(a.orch, a.monitor, a.cfg.DrainInterval, a.cfg.RefreshInterval)
		auto.SetOnDrain(func(res isync.DrainResult) {
			if res.Applied+res.Abandoned+res.MessagesSynced > 0 {
				fmt.Printf("↑ %d applied, %d abandoned, %d messages\n", res.Applied, res.Abandoned, res.MessagesSynced)
			}
		})
		auto.SetOnPull(func() {
			logger.Debug("Local cache refreshed")
		})

		fmt.Printf("Syncing with %s (Ctrl+C to stop)\n", a.cfg.ServerURL)
		auto.Start(ctx)
		<-ctx.Done()
		auto.Stop()
		fmt.Println("Stopped.")
		return nil
	})
}
