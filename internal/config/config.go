package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/ragkb/internal/logging"
)

// ProjectFileName is the per-directory configuration file.
const ProjectFileName = ".ragkb.yaml"

// DefaultDataDirName is created next to the project file when data_dir is unset.
const DefaultDataDirName = ".ragkb"

// Config is the complete ragkb configuration.
type Config struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Vector     VectorConfig     `yaml:"vector"`
	Keyword    KeywordConfig    `yaml:"keyword"`
	Query      QueryConfig      `yaml:"query"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Generation GenerationConfig `yaml:"generation"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
	Logging    logging.Config   `yaml:"logging"`
}

// ChunkingConfig holds the default chunker options used when a caller does
// not pass its own.
type ChunkingConfig struct {
	Strategy string `yaml:"strategy"`
	MaxSize  int    `yaml:"max_size"`
	Overlap  int    `yaml:"overlap"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of ollama, gemini, static.
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	OllamaHost string        `yaml:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout"`

	// CacheSize bounds the LRU of query embeddings. Zero disables caching.
	CacheSize int `yaml:"cache_size"`

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// APIKey is read from GEMINI_API_KEY and never written to disk.
	APIKey string `yaml:"-"`
}

// VectorConfig configures the HNSW vector store.
type VectorConfig struct {
	// IndexName is the single shared namespace all tenants write into.
	IndexName string `yaml:"index_name"`
	Metric    string `yaml:"metric"`
	M         int    `yaml:"m"`
	EfSearch  int    `yaml:"ef_search"`
}

// KeywordConfig selects the full-text backend.
type KeywordConfig struct {
	// Backend is sqlite (FTS5, default) or bleve.
	Backend string `yaml:"backend"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	TopK         int           `yaml:"top_k"`
	MinScore     float64       `yaml:"min_score"`
	Mode         string        `yaml:"mode"`
	VectorWeight float64       `yaml:"vector_weight"`
	RRFConstant  int           `yaml:"rrf_constant"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RerankConfig configures the optional LLM reranker.
type RerankConfig struct {
	Enabled bool `yaml:"enabled"`
	// Model overrides the generation model for rerank prompts.
	Model string `yaml:"model"`
	// MaxCandidates caps how many fused results are sent to the model.
	MaxCandidates int `yaml:"max_candidates"`
}

// GenerationConfig configures the generative model used for reranking and
// answer synthesis.
type GenerationConfig struct {
	// Provider is one of ollama, anthropic, gemini, or empty to disable.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	OllamaHost  string        `yaml:"ollama_host"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`

	// APIKey is read from ANTHROPIC_API_KEY or GEMINI_API_KEY.
	APIKey string `yaml:"-"`
}

// DocumentsConfig configures the lifecycle manager's background embedding.
type DocumentsConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// WatchConfig configures directory sync.
type WatchConfig struct {
	Debounce   time.Duration `yaml:"debounce"`
	Extensions []string      `yaml:"extensions"`
}

// ServerConfig configures `ragkb serve`.
type ServerConfig struct {
	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Chunking: ChunkingConfig{
			Strategy: "recursive",
			MaxSize:  512,
			Overlap:  50,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			OllamaHost: "http://localhost:11434",
			Timeout:    60 * time.Second,
			CacheSize:  1000,
			Burst:      1,
		},
		Vector: VectorConfig{
			IndexName: "knowledge-base",
			Metric:    "cosine",
			M:         16,
			EfSearch:  64,
		},
		Keyword: KeywordConfig{
			Backend: "sqlite",
		},
		Query: QueryConfig{
			TopK:         5,
			MinScore:     0.5,
			Mode:         "vector",
			VectorWeight: 0.5,
			// k=60 is the usual RRF smoothing constant
			RRFConstant: 60,
			Timeout:     30 * time.Second,
		},
		Rerank: RerankConfig{
			Enabled:       false,
			MaxCandidates: 20,
		},
		Generation: GenerationConfig{
			Provider:    "ollama",
			Model:       "llama3.2",
			OllamaHost:  "http://localhost:11434",
			Timeout:     60 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Documents: DocumentsConfig{
			Workers:      max(2, runtime.NumCPU()/2),
			QueueSize:    256,
			EmbedTimeout: 2 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce:   500 * time.Millisecond,
			Extensions: []string{".md", ".markdown", ".txt", ".html", ".htm", ".json"},
		},
		Logging: logging.DefaultConfig(),
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragkb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragkb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragkb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragkb", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragkb", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ragkb/config.yaml)
//  3. Project config (.ragkb.yaml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (RAGKB_*, provider API keys)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.overlayFile(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.overlayFile(filepath.Join(dir, ProjectFileName)); err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnvOverrides()

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(dir, DefaultDataDirName)
	} else if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(dir, cfg.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit file.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overlayFile decodes path on top of the current values. Keys absent from
// the file keep their current value, so explicit zeros are honored.
// A missing file is not an error.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies RAGKB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGKB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RAGKB_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RAGKB_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("RAGKB_EMBEDDING_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embedding.Dimensions = d
		}
	}
	if v := os.Getenv("RAGKB_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
		c.Generation.OllamaHost = v
	}
	if v := os.Getenv("RAGKB_VECTOR_INDEX"); v != "" {
		c.Vector.IndexName = v
	}
	if v := os.Getenv("RAGKB_KEYWORD_BACKEND"); v != "" {
		c.Keyword.Backend = v
	}
	// explicit zero is a valid weight
	if v := os.Getenv("RAGKB_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Query.VectorWeight = w
		}
	}
	if v := os.Getenv("RAGKB_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Query.RRFConstant = k
		}
	}
	if v := os.Getenv("RAGKB_GENERATION_PROVIDER"); v != "" {
		c.Generation.Provider = v
	}
	if v := os.Getenv("RAGKB_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("RAGKB_RERANK"); v != "" {
		c.Rerank.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RAGKB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAGKB_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	switch strings.ToLower(c.Generation.Provider) {
	case "anthropic":
		c.Generation.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		c.Generation.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

var (
	validStrategies   = map[string]bool{"recursive": true, "character": true, "sentence": true, "markdown": true}
	validModes        = map[string]bool{"vector": true, "keyword": true, "hybrid": true}
	validEmbedders    = map[string]bool{"ollama": true, "gemini": true, "static": true}
	validGenerators   = map[string]bool{"": true, "none": true, "ollama": true, "anthropic": true, "gemini": true}
	validKeywordDBs   = map[string]bool{"sqlite": true, "bleve": true}
	validLevels       = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validVectorMetric = map[string]bool{"cosine": true, "euclidean": true}
)

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if !validStrategies[strings.ToLower(c.Chunking.Strategy)] {
		return fmt.Errorf("chunking.strategy must be recursive, character, sentence or markdown, got %q", c.Chunking.Strategy)
	}
	if c.Chunking.MaxSize <= 0 {
		return fmt.Errorf("chunking.max_size must be positive, got %d", c.Chunking.MaxSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		return fmt.Errorf("chunking.overlap must be in [0, max_size), got %d", c.Chunking.Overlap)
	}

	if !validEmbedders[strings.ToLower(c.Embedding.Provider)] {
		return fmt.Errorf("embedding.provider must be ollama, gemini or static, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be non-negative, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return fmt.Errorf("embedding.requests_per_second must be non-negative")
	}

	if c.Vector.IndexName == "" {
		return fmt.Errorf("vector.index_name is required")
	}
	if !validVectorMetric[strings.ToLower(c.Vector.Metric)] {
		return fmt.Errorf("vector.metric must be cosine or euclidean, got %q", c.Vector.Metric)
	}
	if !validKeywordDBs[strings.ToLower(c.Keyword.Backend)] {
		return fmt.Errorf("keyword.backend must be sqlite or bleve, got %q", c.Keyword.Backend)
	}

	if c.Query.TopK <= 0 {
		return fmt.Errorf("query.top_k must be positive, got %d", c.Query.TopK)
	}
	if !validModes[strings.ToLower(c.Query.Mode)] {
		return fmt.Errorf("query.mode must be vector, keyword or hybrid, got %q", c.Query.Mode)
	}
	if c.Query.VectorWeight < 0 || c.Query.VectorWeight > 1 {
		return fmt.Errorf("query.vector_weight must be between 0 and 1, got %f", c.Query.VectorWeight)
	}
	if c.Query.RRFConstant <= 0 {
		return fmt.Errorf("query.rrf_constant must be positive, got %d", c.Query.RRFConstant)
	}
	if c.Rerank.MaxCandidates <= 0 {
		return fmt.Errorf("rerank.max_candidates must be positive, got %d", c.Rerank.MaxCandidates)
	}

	if !validGenerators[strings.ToLower(c.Generation.Provider)] {
		return fmt.Errorf("generation.provider must be ollama, anthropic, gemini or none, got %q", c.Generation.Provider)
	}

	if c.Documents.Workers <= 0 {
		return fmt.Errorf("documents.workers must be positive, got %d", c.Documents.Workers)
	}
	if c.Documents.QueueSize <= 0 {
		return fmt.Errorf("documents.queue_size must be positive, got %d", c.Documents.QueueSize)
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
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
