package indexer

import (
	"log/slog"

	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/store"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
)

// RegistryConfigFrom maps loaded configuration onto registry options.
func RegistryConfigFrom(cfg *config.Config, embedder embed.Embedder, logger *slog.Logger) RegistryConfig {
	backend := store.Backend(cfg.Storage.SnapshotBackend)
	return RegistryConfig{
		DataDir: cfg.Paths.DataDir,
		Lexical: tfidf.Options{
			DocIDKey:         cfg.Lexical.DocIDKey,
			Lang:             cfg.Lexical.Lang,
			Autosave:         cfg.Lexical.Autosave,
			AutosaveInterval: cfg.LexicalAutosaveInterval(),
			Backend:          backend,
			Logger:           logger,
		},
		Vector: vectordb.Options{
			Embedder:         embedder,
			Multithreaded:    cfg.Vector.Multithreaded,
			Workers:          cfg.Vector.Workers,
			Autosave:         cfg.Vector.Autosave,
			AutosaveInterval: cfg.VectorAutosaveInterval(),
			Backend:          backend,
			Logger:           logger,
		},
		Logger: logger,
	}
}

// ConfigFrom builds indexer options for files under root.
func ConfigFrom(cfg *config.Config, registry *Registry, root string, logger *slog.Logger) Config {
	return Config{
		Registry: registry,
		Chunking: vectordb.IngestOptions{
			ChunkSize:      cfg.Vector.ChunkSize,
			SplitSeparator: cfg.Vector.SplitSeparator,
			Overlap:        cfg.Vector.ChunkOverlap,
		},
		Lang:    cfg.Lexical.Lang,
		Root:    root,
		Exclude: cfg.Paths.Exclude,
		Logger:  logger,
	}
}

// EmbedderFrom builds the configured embedder.
func EmbedderFrom(cfg *config.Config) (embed.Embedder, error) {
	return embed.NewEmbedder(embed.Config{
		Provider:          cfg.Embeddings.Provider,
		Model:             cfg.Embeddings.Model,
		Host:              cfg.Embeddings.Host,
		Dimensions:        cfg.Embeddings.Dimensions,
		CacheSize:         cfg.Embeddings.CacheSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Timeout:           cfg.EmbeddingsTimeout(),
	})
}
