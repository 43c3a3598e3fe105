package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/indexer"
	"github.com/Aman-CERP/kbindex/internal/ui"
)

type ingestOptions struct {
	root       string
	plain      bool
	jsonOutput bool
}

// ingestSummary is the --json output of ingest.
type ingestSummary struct {
	indexer.DirResult
	DurationMS int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Add files or directories to the knowledge base",
		Long: `Add files to both indexes. Directories are walked recursively, skipping
paths matched by .kbindexignore files and paths.exclude patterns.

A file that is already indexed is replaced. Binary, empty and oversized
files are skipped.`,
		Example: `  kbindex ingest notes/
  kbindex ingest README.md docs/ --root .
  kbindex --tenant acme/alice ingest ~/handbook --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Directory document paths are recorded relative to (default: working directory)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output, no terminal UI")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print a JSON summary instead of progress")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, paths []string, opts ingestOptions) error {
	out := cmd.OutOrStdout()
	var renderer ui.Renderer
	if opts.jsonOutput {
		renderer = ui.NewPlainRenderer(ui.Config{Output: io.Discard})
	} else {
		renderer = ui.NewRenderer(ui.Config{
			Output:     out,
			ForcePlain: opts.plain,
			NoColor:    ui.DetectNoColor(),
			Title:      paths[0],
		})
	}

	sess, err := openSession(opts.root, func(p indexer.Progress) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageIngesting,
			Current:     p.Done,
			Total:       p.Total,
			CurrentFile: p.Result.Path,
		})
		reportResult(renderer, p.Result, p.Err)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	var total indexer.DirResult
	var errs []error
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: abs})
			res, err := sess.indexer.IngestDir(ctx, sess.tenant, abs)
			addDirResult(&total, res)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}

		res, err := sess.indexer.IngestFile(ctx, sess.tenant, abs)
		reportResult(renderer, res, err)
		switch {
		case err != nil:
			total.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", abs, err))
		case res.Skipped != "":
			total.Skipped++
		default:
			total.Ingested++
			total.Vectors += res.Vectors
		}
	}

	elapsed := time.Since(start)
	renderer.Complete(ui.CompletionStats{
		Files:    total.Ingested,
		Skipped:  total.Skipped,
		Vectors:  total.Vectors,
		Duration: elapsed,
		Errors:   total.Failed,
		Embedder: ui.EmbedderInfo{
			Backend:    sess.cfg.Embeddings.Provider,
			Model:      sess.embedder.ModelName(),
			Dimensions: sess.embedder.Dimensions(),
		},
	})
	slog.Info("ingest_completed",
		slog.String("tenant", sess.tenant.String()),
		slog.Int("ingested", total.Ingested),
		slog.Int("skipped", total.Skipped),
		slog.Int("failed", total.Failed),
		slog.Duration("duration", elapsed))

	if opts.jsonOutput {
		summary := ingestSummary{DirResult: total, DurationMS: elapsed.Milliseconds()}
		for _, e := range errs {
			summary.Errors = append(summary.Errors, e.Error())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d files failed: %w", total.Failed, total.Ingested+total.Skipped+total.Failed, errors.Join(errs...))
	}
	return nil
}

func reportResult(r ui.Renderer, res indexer.Result, err error) {
	switch {
	case err != nil:
		r.AddError(ui.ErrorEvent{File: res.Path, Err: err})
	case res.Skipped != "":
		r.AddError(ui.ErrorEvent{File: res.Path, Err: fmt.Errorf("skipped (%s)", res.Skipped), IsWarn: true})
	}
}

func addDirResult(dst *indexer.DirResult, src indexer.DirResult) {
	dst.Ingested += src.Ingested
	dst.Removed += src.Removed
	dst.Skipped += src.Skipped
	dst.Failed += src.Failed
	dst.Vectors += src.Vectors
}
