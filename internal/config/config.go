// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.ragcache/config.yaml or ./config.yaml)
//  3. Default values
//
// The loaded Config is immutable after Load: it is validated once
// (fail-fast) and passed explicitly into each component's constructor.
// Business logic never reads the process environment.
//
// Error handling uses sentinel errors for errors.Is checks; Load wraps them
// with the offending value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidCapacity indicates a cache capacity is not positive.
	ErrInvalidCapacity = errors.New("invalid cache capacity")

	// ErrInvalidDimension indicates the vector dimension is out of range.
	ErrInvalidDimension = errors.New("invalid vector dimension")

	// ErrInvalidMetric indicates an unrecognized similarity metric.
	ErrInvalidMetric = errors.New("invalid similarity metric")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidMinScore indicates min_score is outside [-1, 1].
	ErrInvalidMinScore = errors.New("invalid min_score")

	// ErrInvalidContextSize indicates max_context_size is not positive.
	ErrInvalidContextSize = errors.New("invalid max_context_size")

	// ErrInvalidTimeout indicates generation_timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid generation_timeout")

	// ErrInvalidBatchSize indicates embedding_batch_max_size is not positive.
	ErrInvalidBatchSize = errors.New("invalid embedding_batch_max_size")

	// ErrInvalidBackend indicates an unrecognized index backend.
	ErrInvalidBackend = errors.New("invalid index backend")

	// ErrInvalidPostgres indicates incomplete Postgres settings for the
	// postgres index backend.
	ErrInvalidPostgres = errors.New("invalid postgres configuration")
)

// Index backend identifiers used in Config.IndexBackend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Similarity metric identifiers used in Config.SimilarityMetric.
const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
)

// Config stores the validated application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// Retrieval core
	EmbeddingCacheCapacity int           `mapstructure:"embedding_cache_capacity" json:"embedding_cache_capacity"`
	QueryCacheCapacity     int           `mapstructure:"query_cache_capacity" json:"query_cache_capacity"`
	QueryCacheTTL          time.Duration `mapstructure:"query_cache_ttl" json:"query_cache_ttl"`
	VectorDimension        int           `mapstructure:"vector_dimension" json:"vector_dimension"`
	SimilarityMetric       string        `mapstructure:"similarity_metric" json:"similarity_metric"`
	TopK                   int           `mapstructure:"top_k" json:"top_k"`
	MinScore               float64       `mapstructure:"min_score" json:"min_score"`
	MaxContextSize         int           `mapstructure:"max_context_size" json:"max_context_size"`
	GenerationTimeout      time.Duration `mapstructure:"generation_timeout" json:"generation_timeout"`
	EmbeddingBatchMaxSize  int           `mapstructure:"embedding_batch_max_size" json:"embedding_batch_max_size"`
	MaxTextLen             int           `mapstructure:"max_text_len" json:"max_text_len"`

	// Ingestion backpressure
	IngestMaxOutstanding   int     `mapstructure:"ingest_max_outstanding" json:"ingest_max_outstanding"`
	IngestBatchesPerSecond float64 `mapstructure:"ingest_batches_per_second" json:"ingest_batches_per_second"`

	// Index backend: "memory" or "postgres"
	IndexBackend string `mapstructure:"index_backend" json:"index_backend"`

	// Snapshot paths (memory backend persistence); empty disables
	IndexSnapshotPath     string `mapstructure:"index_snapshot_path" json:"index_snapshot_path"`
	EmbeddingSnapshotPath string `mapstructure:"embedding_snapshot_path" json:"embedding_snapshot_path"`

	// AI collaborators
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`
	GenerationModel string `mapstructure:"generation_model" json:"generation_model"`

	// Postgres (postgres backend only)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`
}

// Load loads and validates configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".ragcache")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding_cache_capacity", 10000)
	v.SetDefault("query_cache_capacity", 1000)
	v.SetDefault("query_cache_ttl", "1h")
	v.SetDefault("vector_dimension", 768)
	v.SetDefault("similarity_metric", MetricCosine)
	v.SetDefault("top_k", 5)
	v.SetDefault("min_score", 0.3)
	v.SetDefault("max_context_size", 16384)
	v.SetDefault("generation_timeout", "30s")
	v.SetDefault("embedding_batch_max_size", 16)
	v.SetDefault("max_text_len", 8192)

	v.SetDefault("ingest_max_outstanding", 4)
	v.SetDefault("ingest_batches_per_second", 0)

	v.SetDefault("index_backend", BackendMemory)
	v.SetDefault("index_snapshot_path", "")
	v.SetDefault("embedding_snapshot_path", "")

	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("generation_model", "googleai/gemini-2.5-flash")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragcache")
	v.SetDefault("postgres_db_name", "ragcache")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("server_addr", "127.0.0.1:3500")
}

// bindEnvVariables binds environment overrides explicitly. GEMINI_API_KEY is
// read directly by Genkit, not via Viper.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("index_backend", "RAGCACHE_INDEX_BACKEND")
	mustBind("server_addr", "RAGCACHE_SERVER_ADDR")
	mustBind("embedder_model", "RAGCACHE_EMBEDDER_MODEL")
	mustBind("generation_model", "RAGCACHE_GENERATION_MODEL")
	mustBind("postgres_host", "RAGCACHE_POSTGRES_HOST")
	mustBind("postgres_port", "RAGCACHE_POSTGRES_PORT")
	mustBind("postgres_user", "RAGCACHE_POSTGRES_USER")
	mustBind("postgres_password", "RAGCACHE_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "RAGCACHE_POSTGRES_DB_NAME")
}

// Validate checks every field once at startup.
func (c *Config) Validate() error {
	if c.EmbeddingCacheCapacity <= 0 {
		return fmt.Errorf("%w: embedding_cache_capacity %d", ErrInvalidCapacity, c.EmbeddingCacheCapacity)
	}
	if c.QueryCacheCapacity <= 0 {
		return fmt.Errorf("%w: query_cache_capacity %d", ErrInvalidCapacity, c.QueryCacheCapacity)
	}
	if c.VectorDimension < 1 || c.VectorDimension > 1<<14 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.VectorDimension)
	}
	if c.SimilarityMetric != MetricCosine && c.SimilarityMetric != MetricDot {
		return fmt.Errorf("%w: %q", ErrInvalidMetric, c.SimilarityMetric)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < -1 || c.MinScore > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidMinScore, c.MinScore)
	}
	if c.MaxContextSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidContextSize, c.MaxContextSize)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.GenerationTimeout)
	}
	if c.EmbeddingBatchMaxSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.EmbeddingBatchMaxSize)
	}

	switch c.IndexBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresHost == "" || c.PostgresUser == "" || c.PostgresDBName == "" {
			return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: port %d", ErrInvalidPostgres, c.PostgresPort)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.IndexBackend)
	}

	return nil
}

// PostgresDSN returns the connection string for the postgres index backend.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against the real secret.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
