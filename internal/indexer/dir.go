package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/ignore"
)

// DirResult summarizes a directory operation.
type DirResult struct {
	Ingested int `json:"ingested"`
	Removed  int `json:"removed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Vectors  int `json:"vectors"`
}

// IngestDir ingests every file under dir that the exclude patterns and
// .kbindexignore files do not exclude. A failing file does not stop the
// walk; the failures are returned joined.
func (ix *Indexer) IngestDir(ctx context.Context, tenant Tenant, dir string) (DirResult, error) {
	var res DirResult
	files, err := ix.visibleFiles(dir)
	if err != nil {
		return res, err
	}

	var errs []error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := ix.IngestFile(ctx, tenant, path)
		ix.count(&res, r, err, &errs)
		ix.report(i+1, len(files), r, err)
	}
	ix.logger.Info("indexer_dir_ingested",
		slog.String("dir", dir),
		slog.Int("ingested", res.Ingested),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}

// Reconcile brings the index of dir in line with the files currently
// visible under it: indexed files that are gone or now ignored are
// removed, visible files that are not indexed are ingested.
func (ix *Indexer) Reconcile(ctx context.Context, tenant Tenant, dir string) (DirResult, error) {
	var res DirResult
	abs, err := filepath.Abs(dir)
	if err != nil {
		return res, fmt.Errorf("resolve path: %w", err)
	}
	files, err := ix.visibleFiles(abs)
	if err != nil {
		return res, err
	}
	indexed, err := ix.IndexedFiles(ctx, tenant)
	if err != nil {
		return res, err
	}

	visible := make(map[string]bool, len(files))
	for _, f := range files {
		visible[f] = true
	}
	known := make(map[string]bool, len(indexed))
	var errs []error
	for _, p := range indexed {
		if !under(abs, p) {
			continue
		}
		known[p] = true
		if visible[p] {
			continue
		}
		if _, err := ix.UningestFile(ctx, tenant, p); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		res.Removed++
	}
	for _, f := range files {
		if known[f] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := ix.IngestFile(ctx, tenant, f)
		ix.count(&res, r, err, &errs)
	}

	ix.logger.Info("indexer_reconciled",
		slog.String("dir", abs),
		slog.Int("ingested", res.Ingested),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}

// Progress reports one file processed by IngestDir.
type Progress struct {
	Done   int
	Total  int
	Result Result
	Err    error
}

func (ix *Indexer) report(done, total int, r Result, err error) {
	if ix.cfg.OnProgress != nil {
		ix.cfg.OnProgress(Progress{Done: done, Total: total, Result: r, Err: err})
	}
}

func (ix *Indexer) count(res *DirResult, r Result, err error, errs *[]error) {
	switch {
	case err != nil:
		res.Failed++
		*errs = append(*errs, fmt.Errorf("%s: %w", r.Path, err))
	case r.Skipped != "":
		res.Skipped++
	default:
		res.Ingested++
		res.Vectors += r.Vectors
	}
}

// visibleFiles lists the absolute paths ignore.Walk yields under dir.
func (ix *Indexer) visibleFiles(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFileNotFound,
			fmt.Sprintf("directory %s not found", abs), err).WithDetail("path", abs)
	}
	if !info.IsDir() {
		return nil, kberrors.ValidationError(fmt.Sprintf("%s is not a directory", abs), nil)
	}

	var files []string
	err = ignore.Walk(abs, ignore.New(ix.cfg.Exclude...), func(path string) error {
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", abs, err)
	}
	return files, nil
}

// indexedUnder returns the indexed files inside dir.
func (ix *Indexer) indexedUnder(ctx context.Context, tenant Tenant, dir string) ([]string, error) {
	all, err := ix.IndexedFiles(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range all {
		if under(dir, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// under reports whether path is strictly inside dir.
func under(dir, path string) bool {
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}
