package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/indexer"
	"github.com/Aman-CERP/kbindex/internal/preflight"
)

var errChecksFailed = errors.New("system check failed")

func newDoctorCmd() *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that kbindex can run here",
		Long: `Check the data directory, disk space, file descriptor limit and the
configured embedder. Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			embedder, err := indexer.EmbedderFrom(cfg)
			if err != nil {
				return fmt.Errorf("failed to create embedder: %w", err)
			}
			defer func() { _ = embedder.Close() }()

			checker := preflight.New(
				preflight.WithEmbedder(embedder),
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(cmd.Context(), cfg.Paths.DataDir)

			if jsonOutput {
				if err := writeJSON(cmd, map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errChecksFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
