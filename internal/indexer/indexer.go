package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
)

// DefaultMaxFileSize is the largest file ingested (10MB). Larger files are
// skipped with a warning.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Metadata fields attached to every ingested file.
const (
	MetaFullPath    = "fullpath"
	MetaCMSPath     = "cmspath"
	MetaID          = "id"
	MetaOrg         = "org"
	MetaDateCreated = "date_created"
)

// Skip reasons reported in Result.Skipped.
const (
	SkipSymlink  = "symlink"
	SkipTooLarge = "too_large"
	SkipBinary   = "binary"
	SkipEmpty    = "empty"
)

// Config configures an Indexer.
type Config struct {
	// Registry provides the databases. Required.
	Registry *Registry

	// Chunking controls how documents are split for the vector database.
	Chunking vectordb.IngestOptions

	// Lang is passed to the TF-IDF database; empty uses its default.
	Lang string

	// Root is the directory cmspath values are relative to. Files outside
	// it use their base name.
	Root string

	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64

	// Exclude holds gitignore-style patterns applied by IngestDir and
	// Reconcile on top of any .kbindexignore files.
	Exclude []string

	// OnProgress, when set, is called after each file IngestDir handles.
	OnProgress func(Progress)

	Logger *slog.Logger
}

// Indexer mirrors files into a tenant's TF-IDF and vector databases.
//
// The per-file operations are safe for concurrent use on different files.
// HandleEvents serializes whole batches.
type Indexer struct {
	cfg    Config
	logger *slog.Logger

	// batchMu serializes HandleEvents.
	batchMu sync.Mutex
}

// Result describes one ingested file.
//
// Vectors counts the records stored under the file's path. A chunk whose
// vector was already stored, by another file or earlier in the same one,
// keeps its existing record and is counted in Shared instead.
type Result struct {
	Path    string `json:"path"`
	Vectors int    `json:"vectors"`
	Shared  int    `json:"shared,omitempty"`
	Skipped string `json:"skipped,omitempty"`
}

// New creates an Indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.Registry == nil {
		return nil, kberrors.ValidationError("indexer requires a registry", nil)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Root != "" {
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		cfg.Root = root
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{cfg: cfg, logger: logger}, nil
}

// Registry returns the registry the indexer writes through.
func (ix *Indexer) Registry() *Registry { return ix.cfg.Registry }

// IngestFile indexes the file at path into both databases of tenant,
// replacing whatever was indexed for it before. If the vector ingestion
// fails the TF-IDF entry is removed again so the two stay in sync.
func (ix *Indexer) IngestFile(ctx context.Context, tenant Tenant, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("resolve path: %w", err)
	}
	res := Result{Path: abs}

	content, skip, err := ix.readFile(abs)
	if err != nil || skip != "" {
		res.Skipped = skip
		return res, err
	}

	h, err := ix.cfg.Registry.Get(ctx, tenant)
	if err != nil {
		return res, err
	}

	// vectors of an earlier version of the file are not replaced by chunks
	// that hash differently, so drop them first
	if n, err := ix.dropVectors(h, abs); err != nil {
		return res, fmt.Errorf("drop stale vectors: %w", err)
	} else if n > 0 {
		ix.logger.Debug("indexer_stale_vectors_dropped",
			slog.String("path", abs),
			slog.Int("vectors", n))
	}

	md := ix.metadata(tenant, abs)
	if err := h.TFIDF.Ingest(content, tfidf.Metadata(md), ix.cfg.Lang); err != nil {
		return res, err
	}

	ingested, err := h.Vector.IngestDocument(ctx, vectordb.Metadata(md), content, ix.cfg.Chunking)
	if err != nil {
		if derr := h.TFIDF.Delete(tfidf.Metadata(md), ix.cfg.Lang); derr != nil {
			ix.logger.Error("indexer_tfidf_resync_failed",
				slog.String("path", abs),
				slog.String("error", derr.Error()))
		}
		ix.logger.Error("indexer_vector_ingest_failed",
			append([]any{slog.String("path", abs), slog.String("tenant", tenant.String())},
				kberrors.LogAttrs(err)...)...)
		return res, err
	}

	res.Vectors = len(ingested.Created)
	res.Shared = len(ingested.Vectors) - len(ingested.Created)
	ix.logger.Info("indexer_file_ingested",
		slog.String("path", abs),
		slog.String("tenant", tenant.String()),
		slog.Int("vectors", res.Vectors),
		slog.Int("shared", res.Shared))
	return res, nil
}

// readFile returns the text of path, or a skip reason.
func (ix *Indexer) readFile(path string) (string, string, error) {
	// Lstat so symlinks are seen, not followed
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", kberrors.New(kberrors.ErrCodeFileNotFound,
				fmt.Sprintf("file %s not found", path), err).WithDetail("path", path)
		}
		return "", "", kberrors.New(kberrors.ErrCodeFilePermission, "stat file", err).WithDetail("path", path)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		ix.logger.Debug("indexer_skipping_symlink", slog.String("path", path))
		return "", SkipSymlink, nil
	}
	if info.IsDir() {
		return "", "", kberrors.ValidationError(fmt.Sprintf("%s is a directory", path), nil)
	}
	if info.Size() > ix.cfg.MaxFileSize {
		ix.logger.Warn("indexer_skipping_oversized_file",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max", ix.cfg.MaxFileSize))
		return "", SkipTooLarge, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", kberrors.New(kberrors.ErrCodeFilePermission, "read file", err).WithDetail("path", path)
	}
	if isBinaryContent(data) {
		return "", SkipBinary, nil
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", SkipEmpty, nil
	}
	return string(data), "", nil
}

// UningestFile removes the file at path from both databases and returns
// how many vectors were deleted. A file that was never indexed returns
// ERR_601_DOCUMENT_NOT_FOUND.
func (ix *Indexer) UningestFile(ctx context.Context, tenant Tenant, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	h, err := ix.cfg.Registry.Get(ctx, tenant)
	if err != nil {
		return 0, err
	}

	docs, err := ix.findDocuments(h, abs)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, fileNotIndexed(abs)
	}
	for _, d := range docs {
		if err := h.TFIDF.Delete(d.Metadata, ix.cfg.Lang); err != nil && !kberrors.IsNotFound(err) {
			return 0, err
		}
	}

	n, err := ix.dropVectors(h, abs)
	if err != nil {
		ix.logger.Error("indexer_vector_uningest_incomplete",
			slog.String("path", abs),
			slog.Int("dropped", n),
			slog.String("error", err.Error()))
		return n, err
	}
	ix.logger.Info("indexer_file_uningested",
		slog.String("path", abs),
		slog.String("tenant", tenant.String()),
		slog.Int("vectors", n))
	return n, nil
}

// RenameFile moves the index entries of from to to without re-embedding.
// It returns how many vectors were updated.
func (ix *Indexer) RenameFile(ctx context.Context, tenant Tenant, from, to string) (int, error) {
	absFrom, err := filepath.Abs(from)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	absTo, err := filepath.Abs(to)
	if err != nil {
		return 0, fmt.Errorf("resolve path: %w", err)
	}
	h, err := ix.cfg.Registry.Get(ctx, tenant)
	if err != nil {
		return 0, err
	}

	docs, err := ix.findDocuments(h, absFrom)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, fileNotIndexed(absFrom)
	}
	for _, d := range docs {
		if err := h.TFIDF.Update(d.Metadata, tfidf.Metadata(ix.moved(d.Metadata, absTo)), ix.cfg.Lang); err != nil {
			return 0, err
		}
	}

	entries, err := h.Vector.List(vectordb.MetadataEquals(MetaFullPath, absFrom), false)
	if err != nil {
		return 0, err
	}
	var errs []error
	renamed := 0
	for _, e := range entries {
		md := ix.moved(e.Metadata, absTo)
		if _, err := h.Vector.Update(ctx, e.Vector, vectordb.Metadata(md), e.Text); err != nil {
			errs = append(errs, err)
			continue
		}
		renamed++
	}
	if err := errors.Join(errs...); err != nil {
		ix.logger.Error("indexer_vector_rename_incomplete",
			slog.String("from", absFrom),
			slog.String("to", absTo),
			slog.Int("renamed", renamed),
			slog.String("error", err.Error()))
		return renamed, err
	}

	ix.logger.Info("indexer_file_renamed",
		slog.String("from", absFrom),
		slog.String("to", absTo),
		slog.Int("vectors", renamed))
	return renamed, nil
}

// ModifyFile re-indexes a changed file.
func (ix *Indexer) ModifyFile(ctx context.Context, tenant Tenant, path string) (Result, error) {
	if _, err := ix.UningestFile(ctx, tenant, path); err != nil && !kberrors.IsNotFound(err) {
		return Result{}, err
	}
	return ix.IngestFile(ctx, tenant, path)
}

// IndexedFiles returns the full paths of every file in the TF-IDF database
// of tenant, sorted.
func (ix *Indexer) IndexedFiles(ctx context.Context, tenant Tenant) ([]string, error) {
	h, err := ix.cfg.Registry.Get(ctx, tenant)
	if err != nil {
		return nil, err
	}
	docs, err := h.TFIDF.Query("", tfidf.QueryOptions{
		Filter: func(m tfidf.Metadata) bool { _, ok := m[MetaFullPath]; return ok },
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		p := fmt.Sprint(d.Metadata[MetaFullPath])
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (ix *Indexer) findDocuments(h *Handles, fullpath string) ([]tfidf.Result, error) {
	return h.TFIDF.Query("", tfidf.QueryOptions{Filter: tfidf.MetadataEquals(MetaFullPath, fullpath)})
}

func (ix *Indexer) dropVectors(h *Handles, fullpath string) (int, error) {
	entries, err := h.Vector.List(vectordb.MetadataEquals(MetaFullPath, fullpath), true)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}
	return h.Vector.Uningest(vectors)
}

func (ix *Indexer) metadata(tenant Tenant, fullpath string) map[string]any {
	md := map[string]any{
		MetaFullPath:    fullpath,
		MetaCMSPath:     ix.cmsPath(fullpath),
		MetaID:          tenant.ID,
		MetaOrg:         tenant.Org,
		MetaDateCreated: time.Now().UnixMilli(),
	}
	md[ix.cfg.Registry.DocIDKey()] = fullpath
	return md
}

// moved copies md with its path fields pointing at to.
func (ix *Indexer) moved(md map[string]any, to string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	out[MetaFullPath] = to
	out[MetaCMSPath] = ix.cmsPath(to)
	out[ix.cfg.Registry.DocIDKey()] = to
	return out
}

// cmsPath is fullpath relative to the root, with forward slashes.
func (ix *Indexer) cmsPath(fullpath string) string {
	if ix.cfg.Root != "" {
		if rel, err := filepath.Rel(ix.cfg.Root, fullpath); err == nil && !escapes(rel) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(fullpath)
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fileNotIndexed(path string) error {
	return kberrors.New(kberrors.ErrCodeDocumentNotFound,
		fmt.Sprintf("file %s is not indexed", path), nil).WithDetail("path", path)
}

// isBinaryContent reports a NUL byte in the first 512 bytes.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
