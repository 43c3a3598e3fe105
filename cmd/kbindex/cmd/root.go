// Package cmd provides the CLI commands for kbindex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/logging"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// Global flags
var (
	debugMode  bool
	dataDir    string
	tenantFlag string
)

var loggingCleanup func()

// NewRootCmd creates the root command for the kbindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbindex",
		Short: "Local knowledge base with keyword and semantic search",
		Long: `kbindex keeps two indexes of your documents side by side: a TF-IDF
index for keyword search over whole documents and a vector database
for semantic search over passages.

Documents are stored per tenant (organization/user) under the data
directory. Both indexes are plain files, written on a timer and on exit.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("kbindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.kbindex/logs/")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides paths.data_dir)")
	cmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "Tenant as org/id (overrides tenant.org and tenant.id)")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging sends logs to the rotating log file configured under
// server.*, and also to stderr with --debug. Commands keep working when the
// log file cannot be opened or the configuration does not load.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.NewConfig()
	}
	logCfg := logSettings(cfg)

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		if debugMode {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug_logging_enabled",
		slog.String("log_file", logCfg.FilePath),
		slog.String("version", version.Version))
	return nil
}

// logSettings maps the server section onto the logger.
func logSettings(cfg *config.Config) logging.Config {
	logCfg := logging.FileConfig(cfg.Server.LogLevel, cfg.Server.LogFile, logging.RotationPolicy{
		MaxBytes:     int64(cfg.Server.LogMaxSizeMB) << 20,
		Keep:         cfg.Server.LogMaxFiles,
		SyncInterval: cfg.Server.LogSync(),
	})
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	return logCfg
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
