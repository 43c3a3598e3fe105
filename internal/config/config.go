// Package config loads kbindex configuration.
//
// Values are layered in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/kbindex/config.yaml)
//  3. Project config (.kbindex.yaml in the working directory)
//  4. Environment variables (KBINDEX_*)
//
// Each YAML layer only overrides the keys it sets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-directory config file.
const ProjectFileName = ".kbindex.yaml"

// Config is the complete kbindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Tenant     TenantConfig     `yaml:"tenant" json:"tenant"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig says where databases live and which files are indexed.
type PathsConfig struct {
	// DataDir holds one directory per tenant.
	DataDir string   `yaml:"data_dir" json:"data_dir"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// TenantConfig is the default tenant for CLI commands.
type TenantConfig struct {
	Org string `yaml:"org" json:"org"`
	ID  string `yaml:"id" json:"id"`
}

// LexicalConfig configures the TF-IDF index.
type LexicalConfig struct {
	DocIDKey         string `yaml:"docid_key" json:"docid_key"`
	Lang             string `yaml:"lang" json:"lang"`
	Autosave         bool   `yaml:"autosave" json:"autosave"`
	AutosaveInterval string `yaml:"autosave_interval" json:"autosave_interval"`
}

// VectorConfig configures the vector database and document chunking.
type VectorConfig struct {
	Multithreaded    bool    `yaml:"multithreaded" json:"multithreaded"`
	Workers          int     `yaml:"workers" json:"workers"` // 0 = NumCPU-1
	Autosave         bool    `yaml:"autosave" json:"autosave"`
	AutosaveInterval string  `yaml:"autosave_interval" json:"autosave_interval"`
	ChunkSize        int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	SplitSeparator   string  `yaml:"split_separator" json:"split_separator"`
	MinSimilarity    float64 `yaml:"min_similarity" json:"min_similarity"`
}

// StorageConfig selects the snapshot backend for both engines.
type StorageConfig struct {
	SnapshotBackend string `yaml:"snapshot_backend" json:"snapshot_backend"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `yaml:"provider" json:"provider"`
	Model             string  `yaml:"model" json:"model"`
	Host              string  `yaml:"host" json:"host"`
	Dimensions        int     `yaml:"dimensions" json:"dimensions"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Timeout           string  `yaml:"timeout" json:"timeout"`
}

// WatchConfig configures `kbindex watch`.
type WatchConfig struct {
	Debounce     string `yaml:"debounce" json:"debounce"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// ServerConfig configures logging and the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`

	// LogFile defaults to ~/.kbindex/logs/kbindex.log when empty.
	LogFile      string `yaml:"log_file" json:"log_file"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxFiles  int    `yaml:"log_max_files" json:"log_max_files"`

	// LogSyncInterval bounds how often the log file is fsynced; "0s"
	// syncs after every record.
	LogSyncInterval string `yaml:"log_sync_interval" json:"log_sync_interval"`
}

// defaultExcludePatterns are skipped when walking and watching directories.
var defaultExcludePatterns = []string{
	".git/",
	"node_modules/",
	".lock",
	"*.swp",
	"*~",
	".DS_Store",
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
			Exclude: append([]string(nil), defaultExcludePatterns...),
		},
		Tenant: TenantConfig{Org: "default", ID: "default"},
		Lexical: LexicalConfig{
			DocIDKey:         "aidb_docid",
			Lang:             "en",
			Autosave:         true,
			AutosaveInterval: "500ms",
		},
		Vector: VectorConfig{
			Multithreaded:    true,
			Autosave:         true,
			AutosaveInterval: "500ms",
			ChunkSize:        1000,
			ChunkOverlap:     100,
			SplitSeparator:   "\n",
		},
		Storage: StorageConfig{SnapshotBackend: "json"},
		Embeddings: EmbeddingsConfig{
			Provider:          "static",
			Model:             "nomic-embed-text",
			Host:              "http://localhost:11434",
			CacheSize:         1024,
			RequestsPerSecond: 20,
			Timeout:           "30s",
		},
		Watch: WatchConfig{
			Debounce:     "200ms",
			PollInterval: "5s",
		},
		Server: ServerConfig{
			Transport:       "stdio",
			LogLevel:        "info",
			LogMaxSizeMB:    10,
			LogMaxFiles:     5,
			LogSyncInterval: "0s",
		},
	}
}

// DefaultDataDir returns ~/.kbindex/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbindex", "data")
	}
	return filepath.Join(home, ".kbindex", "data")
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/kbindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbindex", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for a command run from dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := filepath.Join(dir, ProjectFileName); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c, so keys absent from the file keep their
// current values. Exclude patterns are appended rather than replaced.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	exclude := c.Paths.Exclude
	c.Paths.Exclude = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Paths.Exclude = exclude
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Paths.Exclude = appendUnique(exclude, c.Paths.Exclude...)
	return nil
}

// applyEnvOverrides applies KBINDEX_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KBINDEX_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("KBINDEX_TENANT_ORG"); v != "" {
		c.Tenant.Org = v
	}
	if v := os.Getenv("KBINDEX_TENANT_ID"); v != "" {
		c.Tenant.ID = v
	}
	if v := os.Getenv("KBINDEX_LANG"); v != "" {
		c.Lexical.Lang = v
	}
	if v := os.Getenv("KBINDEX_SNAPSHOT_BACKEND"); v != "" {
		c.Storage.SnapshotBackend = v
	}
	if v := os.Getenv("KBINDEX_MULTITHREADED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Vector.Multithreaded = b
		}
	}
	if v := os.Getenv("KBINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Vector.Workers = n
		}
	}
	if v := os.Getenv("KBINDEX_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Vector.ChunkSize = n
		}
	}
	if v := os.Getenv("KBINDEX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("KBINDEX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("KBINDEX_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("KBINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("KBINDEX_LOG_FILE"); v != "" {
		c.Server.LogFile = v
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}
	if c.Tenant.Org == "" || c.Tenant.ID == "" {
		return fmt.Errorf("tenant.org and tenant.id must not be empty")
	}
	for _, name := range []string{c.Tenant.Org, c.Tenant.ID} {
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("tenant name %q must be a single path segment", name)
		}
	}
	if c.Lexical.DocIDKey == "" {
		return fmt.Errorf("lexical.docid_key must not be empty")
	}

	for key, d := range map[string]string{
		"lexical.autosave_interval": c.Lexical.AutosaveInterval,
		"vector.autosave_interval":  c.Vector.AutosaveInterval,
		"embeddings.timeout":        c.Embeddings.Timeout,
		"watch.debounce":            c.Watch.Debounce,
		"watch.poll_interval":       c.Watch.PollInterval,
	} {
		if _, err := parseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if c.Vector.Workers < 0 {
		return fmt.Errorf("vector.workers must be non-negative, got %d", c.Vector.Workers)
	}
	if c.Vector.ChunkSize < 0 {
		return fmt.Errorf("vector.chunk_size must be non-negative, got %d", c.Vector.ChunkSize)
	}
	if c.Vector.ChunkOverlap < 0 || (c.Vector.ChunkSize > 0 && c.Vector.ChunkOverlap >= c.Vector.ChunkSize) {
		return fmt.Errorf("vector.chunk_overlap must be in [0, chunk_size), got %d", c.Vector.ChunkOverlap)
	}
	if c.Vector.MinSimilarity < -1 || c.Vector.MinSimilarity > 1 {
		return fmt.Errorf("vector.min_similarity must be between -1 and 1, got %f", c.Vector.MinSimilarity)
	}

	switch strings.ToLower(c.Storage.SnapshotBackend) {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.snapshot_backend must be 'json' or 'sqlite', got %s", c.Storage.SnapshotBackend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %f", c.Embeddings.RequestsPerSecond)
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.LogMaxSizeMB <= 0 {
		return fmt.Errorf("server.log_max_size_mb must be positive, got %d", c.Server.LogMaxSizeMB)
	}
	if c.Server.LogMaxFiles < 0 {
		return fmt.Errorf("server.log_max_files must be non-negative, got %d", c.Server.LogMaxFiles)
	}
	if _, err := time.ParseDuration(c.Server.LogSyncInterval); err != nil {
		return fmt.Errorf("server.log_sync_interval: %w", err)
	}
	return nil
}

// LogSync returns the parsed log sync interval, 0 when unset or invalid.
func (s ServerConfig) LogSync() time.Duration {
	d, err := time.ParseDuration(s.LogSyncInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LexicalAutosaveInterval returns the parsed lexical autosave interval.
func (c *Config) LexicalAutosaveInterval() time.Duration {
	return mustDuration(c.Lexical.AutosaveInterval)
}

// VectorAutosaveInterval returns the parsed vector autosave interval.
func (c *Config) VectorAutosaveInterval() time.Duration {
	return mustDuration(c.Vector.AutosaveInterval)
}

// EmbeddingsTimeout returns the parsed embedder request timeout.
func (c *Config) EmbeddingsTimeout() time.Duration {
	return mustDuration(c.Embeddings.Timeout)
}

// WatchDebounce returns the parsed watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return mustDuration(c.Watch.Debounce)
}

// WatchPollInterval returns the parsed polling fallback interval.
func (c *Config) WatchPollInterval() time.Duration {
	return mustDuration(c.Watch.PollInterval)
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is for values that already passed Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
