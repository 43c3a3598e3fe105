package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/indexer"
)

// session holds everything a command needs to read or write one tenant.
type session struct {
	cfg      *config.Config
	tenant   indexer.Tenant
	embedder embed.Embedder
	registry *indexer.Registry
	indexer  *indexer.Indexer
	root     string
}

// loadConfig loads configuration for the working directory and applies
// the global flags.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	if tenantFlag != "" {
		t, err := parseTenant(tenantFlag)
		if err != nil {
			return nil, err
		}
		cfg.Tenant.Org, cfg.Tenant.ID = t.Org, t.ID
	}
	return cfg, nil
}

// parseTenant parses "org/id".
func parseTenant(s string) (indexer.Tenant, error) {
	org, id, ok := strings.Cut(s, "/")
	if !ok {
		return indexer.Tenant{}, fmt.Errorf("invalid tenant %q: expected org/id", s)
	}
	t := indexer.Tenant{Org: org, ID: id}
	if err := t.Validate(); err != nil {
		return indexer.Tenant{}, err
	}
	return t, nil
}

// openSession opens the configured tenant. root is the directory cmspath
// values are relative to; empty means the working directory.
func openSession(root string, onProgress func(indexer.Progress)) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tenant := indexer.Tenant{Org: cfg.Tenant.Org, ID: cfg.Tenant.ID}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	embedder, err := indexer.EmbedderFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	logger := slog.Default()
	registry := indexer.NewRegistry(indexer.RegistryConfigFrom(cfg, embedder, logger))
	icfg := indexer.ConfigFrom(cfg, registry, root, logger)
	icfg.OnProgress = onProgress
	ix, err := indexer.New(icfg)
	if err != nil {
		_ = registry.Close()
		_ = embedder.Close()
		return nil, err
	}

	slog.Debug("session_opened",
		slog.String("tenant", tenant.String()),
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("root", root),
		slog.String("embedder", embedder.ModelName()))

	return &session{
		cfg:      cfg,
		tenant:   tenant,
		embedder: embedder,
		registry: registry,
		indexer:  ix,
		root:     root,
	}, nil
}

// handles opens the tenant's databases.
func (s *session) handles(ctx context.Context) (*indexer.Handles, error) {
	return s.registry.Get(ctx, s.tenant)
}

// Close saves and closes both databases and the embedder.
func (s *session) Close() error {
	return errors.Join(s.registry.Close(), s.embedder.Close())
}
