// Package config provides configuration for the versionstore service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the versionstore configuration.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DBPath is the SQLite event store path; defaults to DataDir/versions.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// LogLevel is the zap level: debug, info, warn, error
	LogLevel string `json:"log_level" yaml:"log_level"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Ingest configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Replay configuration
	Replay ReplayConfig `json:"replay" yaml:"replay"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Storage configuration for exports
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CacheConfig holds materialization cache configuration.
type CacheConfig struct {
	// Backend is memory, redis or none
	Backend string `json:"backend" yaml:"backend"`

	// RedisURL is the redis:// URL (redis backend)
	RedisURL string `json:"redis_url" yaml:"redis_url"`

	// TTL is the default entry lifetime
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// MaxBytes is the memory backend's byte budget
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// IngestConfig holds bulk ingestion configuration.
type IngestConfig struct {
	// DefaultBatchSize applies when a request omits batch_size (1–5000)
	DefaultBatchSize int `json:"default_batch_size" yaml:"default_batch_size"`

	// FlushEvery is how many batches are written per multi-row insert (1–1000)
	FlushEvery int `json:"flush_every" yaml:"flush_every"`
}

// ReplayConfig holds replay configuration.
type ReplayConfig struct {
	// DeleteMode is value or id
	DeleteMode string `json:"delete_mode" yaml:"delete_mode"`
}

// StoreConfig holds event store tuning.
type StoreConfig struct {
	// LockStripes is the number of per-dataset write lock stripes
	LockStripes int `json:"lock_stripes" yaml:"lock_stripes"`

	// ReadPoolSize is the maximum number of read connections
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data/versionstore",
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Cache: CacheConfig{
			Backend:  CacheMemory,
			TTL:      time.Hour,
			MaxBytes: 256 << 20,
		},
		Ingest: IngestConfig{
			DefaultBatchSize: 1000,
			FlushEvery:       5,
		},
		Replay: ReplayConfig{
			DeleteMode: "value",
		},
		Store: StoreConfig{
			LockStripes:  64,
			ReadPoolSize: 8,
		},
		Storage: StorageConfig{
			Type: StorageLocal,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/versionstore"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "versions.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "exports")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.MaxBytes <= 0 {
			return fmt.Errorf("cache.max_bytes must be positive, got %d", c.Cache.MaxBytes)
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache backend is redis")
		}
	case CacheNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	if c.Ingest.DefaultBatchSize < 1 || c.Ingest.DefaultBatchSize > 5000 {
		return fmt.Errorf("ingest.default_batch_size must be between 1 and 5000, got %d", c.Ingest.DefaultBatchSize)
	}
	if c.Ingest.FlushEvery < 1 || c.Ingest.FlushEvery > 1000 {
		return fmt.Errorf("ingest.flush_every must be between 1 and 1000, got %d", c.Ingest.FlushEvery)
	}

	if c.Replay.DeleteMode != "value" && c.Replay.DeleteMode != "id" {
		return fmt.Errorf("invalid replay.delete_mode: %s (must be value or id)", c.Replay.DeleteMode)
	}

	if c.Storage.Type != StorageLocal && c.Storage.Type != StorageS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the VERSIONSTORE_ prefix. Malformed numeric
// values are ignored.
func LoadFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	setString("VERSIONSTORE_DATA_DIR", &cfg.DataDir)
	setString("VERSIONSTORE_DB_PATH", &cfg.DBPath)
	setString("VERSIONSTORE_LOG_LEVEL", &cfg.LogLevel)

	// HTTP configuration
	setString("VERSIONSTORE_HTTP_ADDR", &cfg.HTTP.Addr)
	setDuration("VERSIONSTORE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	setDuration("VERSIONSTORE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	// gRPC configuration
	setString("VERSIONSTORE_GRPC_ADDR", &cfg.GRPC.Addr)
	setBool("VERSIONSTORE_GRPC_ENABLED", &cfg.GRPC.Enabled)

	// Cache configuration
	setString("VERSIONSTORE_CACHE_BACKEND", &cfg.Cache.Backend)
	setString("VERSIONSTORE_CACHE_REDIS_URL", &cfg.Cache.RedisURL)
	setDuration("VERSIONSTORE_CACHE_TTL", &cfg.Cache.TTL)
	if v := os.Getenv("VERSIONSTORE_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MaxBytes = n
		}
	}

	// Ingest and replay configuration
	setInt("VERSIONSTORE_INGEST_DEFAULT_BATCH_SIZE", &cfg.Ingest.DefaultBatchSize)
	setInt("VERSIONSTORE_INGEST_FLUSH_EVERY", &cfg.Ingest.FlushEvery)
	setString("VERSIONSTORE_REPLAY_DELETE_MODE", &cfg.Replay.DeleteMode)

	// Storage configuration
	setString("VERSIONSTORE_STORAGE_TYPE", &cfg.Storage.Type)
	setString("VERSIONSTORE_STORAGE_PATH", &cfg.Storage.Path)
	setString("VERSIONSTORE_S3_BUCKET", &cfg.Storage.S3.Bucket)
	setString("VERSIONSTORE_S3_REGION", &cfg.Storage.S3.Region)
	setString("VERSIONSTORE_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	setBool("VERSIONSTORE_S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.DBPath)}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
