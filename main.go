package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "devsession-mon",
		Short: "Record, classify and report on development sessions",
		Long: `devsession-mon records what happens while you work on a project:
file changes, focused windows and shell commands. Command output is
classified for errors and optionally summarized by a language model,
and sessions can be turned into reports.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(logCommandCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
