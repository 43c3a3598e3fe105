package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// Ollama API defaults
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaTimeout bounds a single embedding request
	DefaultOllamaTimeout = 60 * time.Second

	// DefaultRequestsPerSecond throttles requests to a shared Ollama server
	DefaultRequestsPerSecond = 20
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to use.
	Model string

	// Dimensions overrides detection from the first response (0 = detect).
	Dimensions int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// RequestsPerSecond caps the request rate (<= 0 disables the limit).
	RequestsPerSecond float64

	// Retry controls retries of network failures.
	Retry kberrors.RetryConfig

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              DefaultOllamaHost,
		Model:             DefaultOllamaModel,
		Timeout:           DefaultOllamaTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Retry:             kberrors.DefaultRetryConfig(),
	}
}

// ollamaEmbedRequest is the Ollama /api/embed request
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the Ollama /api/embed response
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API. Requests are
// rate limited, network failures are retried, and a circuit breaker stops
// hammering a server that keeps failing.
type OllamaEmbedder struct {
	client  *http.Client
	config  OllamaConfig
	limiter *rate.Limiter
	breaker *kberrors.CircuitBreaker

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. No request is made until
// the first Embed call.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OllamaEmbedder{
		client:  client,
		config:  cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: kberrors.NewCircuitBreaker("ollama", kberrors.WithMaxFailures(5), kberrors.WithResetTimeout(30*time.Second)),
		dims:    cfg.Dimensions,
	}
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := kberrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		return kberrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
			return e.doEmbed(ctx, texts)
		})
	})
	if err != nil {
		if errors.Is(err, kberrors.ErrCircuitOpen) {
			return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable, "ollama is failing, requests suspended", err).
				WithSuggestion("check that `ollama serve` is running at " + e.config.Host)
		}
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}

	e.mu.Lock()
	if e.dims == 0 && len(vecs[0]) > 0 {
		e.dims = len(vecs[0])
		slog.Debug("ollama_dimensions_detected",
			slog.String("model", e.config.Model),
			slog.Int("dimensions", e.dims))
	}
	e.mu.Unlock()
	return vecs, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, kberrors.New(kberrors.ErrCodeNetworkTimeout, "ollama request timed out", err)
		}
		return nil, kberrors.NetworkError("failed to connect to Ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, kberrors.NetworkError(fmt.Sprintf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
		}
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Embeddings, nil
}

// Dimensions returns the configured or detected dimension (0 before the
// first successful call when not configured).
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
