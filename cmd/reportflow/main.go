// Package main provides the reportflow command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/internal/logging"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonLogs    bool
	parallelism int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reportflow",
	Short: "Build structured reports from tabular files, issue trackers and shell commands",
	Long: `reportflow expands a report configuration into a graph of extraction
tasks, runs them concurrently and renders the result as a document.

The configuration is read from --config, or discovered in ./reportflow.json,
$XDG_CONFIG_HOME/reportflow, ~/.reportflow, /etc/reportflow and
$REPORT_CONFIG_PATH. Overridable replacements of the configuration become
flags of their own, e.g. --sprint-number 42.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.Options{Verbose: verbose, JSON: jsonLogs})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "report configuration file (JSON or YAML)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&jsonLogs, "json-logs", false, "log as JSON instead of console text")
	flags.IntVarP(&parallelism, "parallelism", "p", 0, "maximum concurrent tasks (overrides policy.max_parallelism)")

	rootCmd.AddCommand(buildCmd, publishCmd, previewCmd, pipelineCmd, serveCmd)
}

func main() {
	registerReplacementFlags(rootCmd, os.Args[1:])

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("reportflow failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
