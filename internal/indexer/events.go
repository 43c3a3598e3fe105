package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/watcher"
)

// HandleEvents applies a batch of watcher events in order. A failing event
// is logged and does not stop the batch. It returns how many events were
// applied.
func (ix *Indexer) HandleEvents(ctx context.Context, tenant Tenant, events []watcher.FileEvent) int {
	ix.batchMu.Lock()
	defer ix.batchMu.Unlock()

	processed := 0
	for _, ev := range events {
		if err := ix.HandleEvent(ctx, tenant, ev); err != nil {
			ix.logger.Warn("indexer_event_failed",
				append([]any{
					slog.String("path", ev.Path),
					slog.String("operation", ev.Operation.String()),
				}, kberrors.LogAttrs(err)...)...)
			continue
		}
		processed++
	}
	return processed
}

// HandleEvent applies one watcher event.
//
// Directory deletes and renames apply to every indexed file below the
// directory. A delete or rename of a path that is not indexed as a file is
// also tried as a directory, since the watcher cannot always tell once the
// path is gone.
func (ix *Indexer) HandleEvent(ctx context.Context, tenant Tenant, ev watcher.FileEvent) error {
	ix.logger.Debug("indexer_processing_event",
		slog.String("path", ev.Path),
		slog.String("operation", ev.Operation.String()),
		slog.Bool("is_dir", ev.IsDir))

	switch ev.Operation {
	case watcher.OpCreate:
		if ev.IsDir {
			// the watcher reports a new directory's files individually
			return nil
		}
		_, err := ix.IngestFile(ctx, tenant, ev.Path)
		return err

	case watcher.OpModify:
		if ev.IsDir {
			return nil
		}
		_, err := ix.ModifyFile(ctx, tenant, ev.Path)
		return err

	case watcher.OpDelete:
		if !ev.IsDir {
			_, err := ix.UningestFile(ctx, tenant, ev.Path)
			if !kberrors.IsNotFound(err) {
				return err
			}
		}
		_, err := ix.UningestDir(ctx, tenant, ev.Path)
		return err

	case watcher.OpRename:
		return ix.handleRename(ctx, tenant, ev)

	case watcher.OpIgnoreChange:
		if ix.cfg.Root == "" {
			ix.logger.Warn("indexer_ignore_change_without_root", slog.String("path", ev.Path))
			return nil
		}
		_, err := ix.Reconcile(ctx, tenant, ix.cfg.Root)
		return err
	}
	return nil
}

func (ix *Indexer) handleRename(ctx context.Context, tenant Tenant, ev watcher.FileEvent) error {
	if !ev.IsDir {
		_, err := ix.RenameFile(ctx, tenant, ev.OldPath, ev.Path)
		if !kberrors.IsNotFound(err) {
			return err
		}
	}
	n, err := ix.renameDir(ctx, tenant, ev.OldPath, ev.Path)
	if err != nil || n > 0 {
		return err
	}
	if ev.IsDir {
		// moved in from an ignored name, or never indexed
		_, err := ix.IngestDir(ctx, tenant, ev.Path)
		return err
	}
	_, err = ix.IngestFile(ctx, tenant, ev.Path)
	return err
}

// UningestDir removes every indexed file under dir and returns how many
// files it found there.
func (ix *Indexer) UningestDir(ctx context.Context, tenant Tenant, dir string) (int, error) {
	files, err := ix.indexedUnder(ctx, tenant, dir)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, f := range files {
		if _, err := ix.UningestFile(ctx, tenant, f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return len(files), errors.Join(errs...)
}

// renameDir moves every indexed file under from to the same place under to
// and returns how many files were moved.
func (ix *Indexer) renameDir(ctx context.Context, tenant Tenant, from, to string) (int, error) {
	absFrom, err := filepath.Abs(from)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	absTo, err := filepath.Abs(to)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	files, err := ix.indexedUnder(ctx, tenant, absFrom)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, f := range files {
		dest := filepath.Join(absTo, strings.TrimPrefix(f, absFrom+string(filepath.Separator)))
		if _, err := ix.RenameFile(ctx, tenant, f, dest); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return len(files), errors.Join(errs...)
}
