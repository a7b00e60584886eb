package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/existflow/irondesk/internal/logger"
	isync "github.com/existflow/irondesk/internal/sync"
	"github.com/existflow/irondesk/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Show whether the server is reachable, how many changes wait to be
pushed and when the last sync ran.

Examples:
  irondesk status
  irondesk status --json
  irondesk status --watch     # live dashboard`,
	RunE: runStatus,
}

var (
	statusJSON  bool
	statusWatch bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Open the live dashboard")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if statusWatch {
		return runDashboard(ctx)
	}

	return withApp(ctx, func(a *app) error {
		a.monitor.Probe(ctx)
		st, err := a.reporter.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatus(a.cfg.ServerURL, st)
		return nil
	})
}

func printStatus(server string, st isync.Status) {
	online := "✗ offline"
	if st.IsOnline {
		online = "✓ online"
	}

	fmt.Printf("Server:        %s (%s)\n", server, online)
	fmt.Printf("Pending:       %d queued changes, %d unsent messages\n", st.PendingSyncCount, st.UnsyncedMessagesCount)
	fmt.Printf("Last push:     %s\n", formatTime(st.LastSyncAt))
	fmt.Printf("Last refresh:  %s\n", formatTime(st.LastPullAt))
	if st.LastSyncError != "" {
		fmt.Printf("Last error:    %s\n", st.LastSyncError)
	}
	if !st.HasCachedData {
		fmt.Println("No cached data yet. Run 'irondesk sync' while online.")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// runDashboard opens the status TUI with background sync running
func runDashboard(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("the dashboard needs a terminal; use 'irondesk status' instead")
	}

	return withApp(ctx, func(a *app) error {
		auto := isync.NewAutoSync(a.orch, a.monitor, a.cfg.DrainInterval, a.cfg.RefreshInterval)
		m := tui.NewModel(a)
		m.SetOnChange(auto.TriggerSync)
		auto.SetOnPull(m.Notify)
		auto.SetOnDrain(func(isync.DrainResult) { m.Notify() })
		auto.Start(ctx)
		defer auto.Stop()

		logger.Info("Launching dashboard")
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			logger.Error("Dashboard error", logger.F("error", err.Error()))
			return fmt.Errorf("failed to run dashboard: %w", err)
		}

		logger.Info("Dashboard exited normally")
		return nil
	})
}
