package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/output"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>...",
		Short: "Remove files from the knowledge base",
		Long: `Remove files from both indexes. A directory removes every indexed file
below it. The files on disk are not touched and need not exist.`,
		Example: `  kbindex delete notes/old.md
  kbindex delete archive/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args)
		},
	}
	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, paths []string) error {
	out := output.New(cmd.OutOrStdout())

	sess, err := openSession("", nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	var errs []error
	removed := 0
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}

		_, err = sess.indexer.UningestFile(ctx, sess.tenant, abs)
		if err == nil {
			removed++
			continue
		}
		if !kberrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("%s: %w", abs, err))
			continue
		}

		n, err := sess.indexer.UningestDir(ctx, sess.tenant, abs)
		removed += n
		switch {
		case err != nil:
			errs = append(errs, err)
		case n == 0:
			out.Warningf("Not indexed: %s", abs)
		}
	}

	if removed > 0 {
		out.Successf("Removed %d %s", removed, plural(removed, "file", "files"))
	}
	return errors.Join(errs...)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
