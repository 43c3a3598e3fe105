package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/output"
	"github.com/Aman-CERP/kbindex/internal/watcher"
)

type watchOptions struct {
	poll          bool
	skipReconcile bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep the knowledge base in sync with a directory",
		Long: `Bring the index of <dir> up to date, then watch it and apply every
create, modify, delete and rename as it happens. Editing a .kbindexignore
file re-checks the whole directory.

Stops on Ctrl+C; both indexes are saved on exit.`,
		Example: `  kbindex watch ~/notes
  kbindex watch /mnt/share --poll`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll for changes instead of using filesystem notifications")
	cmd.Flags().BoolVar(&opts.skipReconcile, "no-reconcile", false, "Skip the initial sync and only apply new changes")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, dir string, opts watchOptions) error {
	out := output.New(cmd.OutOrStdout())

	sess, err := openSession(dir, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if !opts.skipReconcile {
		res, err := sess.indexer.Reconcile(ctx, sess.tenant, sess.root)
		if err != nil {
			out.Warningf("Initial sync finished with errors: %v", err)
		}
		out.Successf("Synced %s: %d ingested, %d removed, %d skipped",
			sess.root, res.Ingested, res.Removed, res.Skipped)
	}

	return watchLoop(ctx, sess, opts.poll, func(applied, total int) {
		out.Statusf("🔄", "Applied %d of %d changes", applied, total)
	})
}

// watchLoop runs a watcher on the session root and feeds its batches to
// the indexer until ctx is done. onBatch may be nil.
func watchLoop(ctx context.Context, sess *session, forcePolling bool, onBatch func(applied, total int)) error {
	w, err := watcher.New(watcher.Options{
		DebounceWindow: sess.cfg.WatchDebounce(),
		PollInterval:   sess.cfg.WatchPollInterval(),
		IgnorePatterns: sess.cfg.Paths.Exclude,
		ForcePolling:   forcePolling,
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx, sess.root) }()

	slog.Info("watch_started",
		slog.String("root", sess.root),
		slog.String("tenant", sess.tenant.String()))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return nil

		case err := <-startErr:
			_ = w.Stop()
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("watcher stopped: %w", err)
			}
			return nil

		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			applied := sess.indexer.HandleEvents(ctx, sess.tenant, batch)
			slog.Info("watch_batch_applied",
				slog.Int("events", len(batch)),
				slog.Int("applied", applied),
				slog.String("mode", w.Mode()))
			if onBatch != nil {
				onBatch(applied, len(batch))
			}

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
