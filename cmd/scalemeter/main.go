// scalemeter turns the textual output of Spectrum Scale administration
// commands (mmrepquota -Y, policy list scans, mmdiag --iohist) into
// tables and usage time series.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scalemeter/internal/config"
	"scalemeter/internal/logging"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scalemeter",
	Short: "Tabulate and track IBM Spectrum Scale usage reports",
	Long: `scalemeter parses the textual output of Spectrum Scale (GPFS)
administration commands into tables and usage time series.

It understands three formats:
  - mmrepquota -Y        colon-delimited quota reports
  - policy list scans    one file per line, caller-defined SHOW columns
  - mmdiag --iohist      the daemon's recent I/O history

Quota reports can be recorded into a SQLite database (see 'record') and
queried as per-fileset usage series (see 'series'), or series can be
built directly from a directory tree of archived snapshots.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "scalemeter.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "snapshot database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(seriesCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
