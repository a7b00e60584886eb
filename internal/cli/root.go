package cli

import (
	"context"
	"fmt"

	"github.com/existflow/irondesk/internal/config"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logFile    string
	logConsole bool
	serverURL  string
	dbPath     string
)

// cfg is loaded once per invocation by PersistentPreRunE
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "irondesk",
	Short: "irondesk - offline-first tasks and chat",
	Long: `irondesk keeps tasks and chat messages in a local database and syncs
them with the irondesk server whenever it is reachable.

Run 'irondesk' without arguments to open the status dashboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config from file (or defaults if not exists)
		loaded, err := config.Load()
		if err != nil {
			logger.Warn("Failed to load config, using defaults", logger.F("error", err.Error()))
			loaded = config.DefaultConfig()
		}
		cfg = loaded

		// Override with CLI flags; saved flags never carry IRONDESK_* values
		if applyFlags(cmd, cfg) {
			if err := persistFlags(cmd); err != nil {
				logger.Warn("Failed to save config", logger.F("error", err.Error()))
			}
		}

		// --db is per invocation and never persisted
		if cmd.Flags().Changed("db") {
			cfg.DBPath = dbPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logConfig := logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			FilePath:   cfg.LogFile,
			MaxSizeMB:  10,
			MaxAge:     7,
			MaxBackups: 5,
			Console:    cfg.LogConsole,
		}

		if err := logger.Init(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger.Info("irondesk started", logger.F("command", cmd.Name()))
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Info("irondesk exiting", logger.F("command", cmd.Name()))
		_ = logger.Close()
	},
}

// applyFlags copies changed persistent flags into c and reports whether
// any of them should be saved
func applyFlags(cmd *cobra.Command, c *config.Config) bool {
	changed := false
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = logLevel
		changed = true
	}
	if cmd.Flags().Changed("log-file") {
		c.LogFile = logFile
		changed = true
	}
	if cmd.Flags().Changed("log-console") {
		c.LogConsole = logConsole
		changed = true
	}
	if cmd.Flags().Changed("server") {
		c.ServerURL = serverURL
		changed = true
	}
	return changed
}

// persistFlags saves the flag changes on top of the stored config file
func persistFlags(cmd *cobra.Command) error {
	path, err := config.Path()
	if err != nil {
		return err
	}
	stored, err := config.LoadStoredFile(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, stored)
	return stored.SaveFile(path)
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// withApp opens the app for the duration of fn
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open app", logger.F("error", err.Error()))
		return err
	}
	defer a.Close()
	return fn(a)
}

func init() {
	// Add logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "log-console", false, "Enable console logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (saved to config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Local database path")

	// Add subcommands
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(clearCmd)
}
