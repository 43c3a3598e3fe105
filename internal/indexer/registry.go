package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
)

// Database directory names under a tenant directory.
const (
	LexicalDirName = "tfidf"
	VectorDirName  = "vectordb"
)

// Tenant identifies one pair of databases.
type Tenant struct {
	Org string `json:"org"`
	ID  string `json:"id"`
}

// String returns "org/id".
func (t Tenant) String() string { return t.Org + "/" + t.ID }

// Validate rejects names that would escape the data directory.
func (t Tenant) Validate() error {
	for _, part := range []string{t.Org, t.ID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return kberrors.ValidationError(fmt.Sprintf("invalid tenant %q", t.String()), nil).
				WithSuggestion("tenant org and id must be single path segments")
		}
	}
	return nil
}

// RegistryConfig configures a Registry. The Path of the two option
// templates is ignored and set per tenant.
type RegistryConfig struct {
	DataDir string
	Lexical tfidf.Options
	Vector  vectordb.Options
	Logger  *slog.Logger
}

// Handles is an open database pair.
type Handles struct {
	TFIDF  *tfidf.DB
	Vector *vectordb.DB
}

// Registry opens databases on first use and keeps them open until Unload
// or Close. It is safe for concurrent use.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu     sync.Mutex
	open   map[Tenant]*Handles
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lexical.Logger == nil {
		cfg.Lexical.Logger = logger
	}
	if cfg.Vector.Logger == nil {
		cfg.Vector.Logger = logger
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		open:   make(map[Tenant]*Handles),
	}
}

// Paths returns the database directories of t.
func (r *Registry) Paths(t Tenant) (lexical, vector string) {
	base := filepath.Join(r.cfg.DataDir, t.Org, t.ID)
	return filepath.Join(base, LexicalDirName), filepath.Join(base, VectorDirName)
}

// DocIDKey is the metadata field the TF-IDF databases key documents by.
func (r *Registry) DocIDKey() string {
	if r.cfg.Lexical.DocIDKey == "" {
		return tfidf.DefaultDocIDKey
	}
	return r.cfg.Lexical.DocIDKey
}

// Get returns the handles of t, opening both databases if needed.
func (r *Registry) Get(ctx context.Context, t Tenant) (*Handles, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, kberrors.ErrClosed
	}
	if h, ok := r.open[t]; ok {
		return h, nil
	}

	lexPath, vecPath := r.Paths(t)
	lexOpts := r.cfg.Lexical
	lexOpts.Path = lexPath
	lex, err := tfidf.Open(ctx, lexOpts)
	if err != nil {
		return nil, fmt.Errorf("open tfidf database for %s: %w", t, err)
	}

	vecOpts := r.cfg.Vector
	vecOpts.Path = vecPath
	vec, err := vectordb.Open(ctx, vecOpts)
	if err != nil {
		_ = lex.Close()
		return nil, fmt.Errorf("open vector database for %s: %w", t, err)
	}

	h := &Handles{TFIDF: lex, Vector: vec}
	r.open[t] = h
	r.logger.Debug("registry_tenant_loaded",
		slog.String("tenant", t.String()),
		slog.Int("documents", lex.Stats().Documents),
		slog.Int("vectors", vec.Stats().Records))
	return h, nil
}

// Tenants returns the currently open tenants, sorted.
func (r *Registry) Tenants() []Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tenant, 0, len(r.open))
	for t := range r.open {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Flush writes every open database.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for t, h := range r.open {
		if err := h.TFIDF.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush tfidf for %s: %w", t, err))
		}
		if err := h.Vector.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush vectors for %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Unload closes the databases of t. Unloading a tenant that is not open
// is a no-op.
func (r *Registry) Unload(t Tenant) error {
	r.mu.Lock()
	h, ok := r.open[t]
	delete(r.open, t)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return closeHandles(h)
}

// Close closes every open database. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	open := r.open
	r.open = make(map[Tenant]*Handles)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for t, h := range open {
		if err := closeHandles(h); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func closeHandles(h *Handles) error {
	return errors.Join(h.TFIDF.Close(), h.Vector.Close())
}
