package embed

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (offline, default)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"
)

// Config selects and tunes an embedder.
type Config struct {
	Provider          string
	Model             string
	Host              string
	Dimensions        int
	CacheSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewEmbedder builds the embedder cfg describes, wrapped in an LRU cache
// unless CacheSize is negative.
func NewEmbedder(cfg Config) (Embedder, error) {
	var inner Embedder

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic, "":
		inner = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		oc.Dimensions = cfg.Dimensions
		oc.RequestsPerSecond = cfg.RequestsPerSecond
		inner = NewOllamaEmbedder(oc)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: static, ollama)", cfg.Provider)
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
