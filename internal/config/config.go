// Package config loads pipeline configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/internal/cluster"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/triage"
)

// Config is the full pipeline configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Triage    TriageConfig    `yaml:"triage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reduce    ReduceConfig    `yaml:"reduce"`
	DBSCAN    DBSCANConfig    `yaml:"dbscan"`
	Naming    NamingConfig    `yaml:"naming"`
}

// StorageConfig selects and configures the document repository backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres" (default: sqlite)
	Backend string `yaml:"backend"`
	// Path is the SQLite database file (default: .quarry/quarry.db)
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`
}

// TriageConfig configures the triage stage.
type TriageConfig struct {
	BatchSize       int    `yaml:"batch_size"`
	PollSeconds     int    `yaml:"poll_seconds"`
	PollTimeoutMins int    `yaml:"poll_timeout_mins"`
	Model           string `yaml:"model"`
}

// EmbeddingConfig configures the embedding stage.
type EmbeddingConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	RequestsPerMin float64 `yaml:"requests_per_min"`
}

// ReduceConfig configures dimension reduction.
type ReduceConfig struct {
	OutputDims int     `yaml:"output_dims"`
	Perplexity float64 `yaml:"perplexity"`
	MaxIter    int     `yaml:"max_iter"`
}

// DBSCANConfig configures density clustering.
type DBSCANConfig struct {
	Eps    float64 `yaml:"eps"`
	MinPts int     `yaml:"min_pts"`
}

// NamingConfig configures cluster naming.
type NamingConfig struct {
	SampleSize int `yaml:"sample_size"`
}

// Default returns the default configuration.
func Default() *Config {
	storageCfg := storage.DefaultConfig()
	triageCfg := triage.DefaultConfig()
	embedCfg := embedding.DefaultConfig()
	reduceCfg := cluster.DefaultReduceConfig()
	dbscanCfg := cluster.DefaultDBSCANConfig()
	namerCfg := cluster.DefaultNamerConfig()

	return &Config{
		Storage: StorageConfig{
			Backend: string(storageCfg.Backend),
			Path:    storageCfg.Path,
		},
		Triage: TriageConfig{
			BatchSize:       triageCfg.BatchSize,
			PollSeconds:     int(triageCfg.PollInterval.Seconds()),
			PollTimeoutMins: int(triageCfg.PollTimeout.Minutes()),
			Model:           triageCfg.Model,
		},
		Embedding: EmbeddingConfig{
			BatchSize:      embedCfg.BatchSize,
			RequestsPerMin: embedCfg.RequestsPerMin,
		},
		Reduce: ReduceConfig{
			OutputDims: reduceCfg.OutputDims,
			Perplexity: reduceCfg.Perplexity,
			MaxIter:    reduceCfg.MaxIter,
		},
		DBSCAN: DBSCANConfig{
			Eps:    dbscanCfg.Eps,
			MinPts: dbscanCfg.MinPts,
		},
		Naming: NamingConfig{
			SampleSize: namerCfg.SampleSize,
		},
	}
}

// Load reads configuration from the given YAML file (if path is non-empty
// and the file exists), then applies environment variable overrides.
//
// Environment variables:
//   - QUARRY_STORAGE_BACKEND: sqlite or postgres (default: sqlite)
//   - QUARRY_STORAGE_PATH: SQLite database file path
//   - QUARRY_STORAGE_DSN: PostgreSQL connection string
//   - QUARRY_TRIAGE_BATCH_SIZE: documents per external batch (default: 1000)
//   - QUARRY_EMBED_BATCH_SIZE: texts per embedding call (default: 128)
//   - QUARRY_DBSCAN_EPS: clustering neighborhood radius (default: 0.5)
//   - QUARRY_DBSCAN_MIN_PTS: clustering core point threshold (default: 5)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := parseEnvString("QUARRY_STORAGE_BACKEND", &cfg.Storage.Backend); err != nil {
		return err
	}
	if err := parseEnvString("QUARRY_STORAGE_PATH", &cfg.Storage.Path); err != nil {
		return err
	}
	if err := parseEnvString("QUARRY_STORAGE_DSN", &cfg.Storage.DSN); err != nil {
		return err
	}
	if err := parseEnvInt("QUARRY_TRIAGE_BATCH_SIZE", &cfg.Triage.BatchSize); err != nil {
		return err
	}
	if err := parseEnvInt("QUARRY_EMBED_BATCH_SIZE", &cfg.Embedding.BatchSize); err != nil {
		return err
	}
	if err := parseEnvFloat("QUARRY_DBSCAN_EPS", &cfg.DBSCAN.Eps); err != nil {
		return err
	}
	if err := parseEnvInt("QUARRY_DBSCAN_MIN_PTS", &cfg.DBSCAN.MinPts); err != nil {
		return err
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	switch storage.Backend(c.Storage.Backend) {
	case storage.BackendSQLite, storage.BackendPostgres, "":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	if storage.Backend(c.Storage.Backend) == storage.BackendPostgres && c.Storage.DSN == "" {
		return fmt.Errorf("postgres backend requires a DSN")
	}
	if err := c.TriageConfig().Validate(); err != nil {
		return err
	}
	if err := c.EmbeddingConfig().Validate(); err != nil {
		return err
	}
	if err := c.ReduceConfig().Validate(); err != nil {
		return err
	}
	if err := c.DBSCANConfig().Validate(); err != nil {
		return err
	}
	return c.NamerConfig().Validate()
}

// StorageConfig converts to the storage package's config type.
func (c *Config) StorageConfig() *storage.Config {
	return &storage.Config{
		Backend: storage.Backend(c.Storage.Backend),
		Path:    c.Storage.Path,
		DSN:     c.Storage.DSN,
	}
}

// TriageConfig converts to the triage package's config type.
func (c *Config) TriageConfig() triage.Config {
	cfg := triage.DefaultConfig()
	if c.Triage.BatchSize > 0 {
		cfg.BatchSize = c.Triage.BatchSize
	}
	if c.Triage.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(c.Triage.PollSeconds) * time.Second
	}
	if c.Triage.PollTimeoutMins > 0 {
		cfg.PollTimeout = time.Duration(c.Triage.PollTimeoutMins) * time.Minute
	}
	if c.Triage.Model != "" {
		cfg.Model = c.Triage.Model
	}
	return cfg
}

// EmbeddingConfig converts to the embedding package's config type.
func (c *Config) EmbeddingConfig() embedding.Config {
	cfg := embedding.DefaultConfig()
	if c.Embedding.BatchSize > 0 {
		cfg.BatchSize = c.Embedding.BatchSize
	}
	if c.Embedding.RequestsPerMin > 0 {
		cfg.RequestsPerMin = c.Embedding.RequestsPerMin
	}
	return cfg
}

// ReduceConfig converts to the cluster package's reduction config type.
func (c *Config) ReduceConfig() cluster.ReduceConfig {
	cfg := cluster.DefaultReduceConfig()
	if c.Reduce.OutputDims > 0 {
		cfg.OutputDims = c.Reduce.OutputDims
	}
	if c.Reduce.Perplexity > 0 {
		cfg.Perplexity = c.Reduce.Perplexity
	}
	if c.Reduce.MaxIter > 0 {
		cfg.MaxIter = c.Reduce.MaxIter
	}
	return cfg
}

// DBSCANConfig converts to the cluster package's clustering config type.
func (c *Config) DBSCANConfig() cluster.DBSCANConfig {
	cfg := cluster.DefaultDBSCANConfig()
	if c.DBSCAN.Eps > 0 {
		cfg.Eps = c.DBSCAN.Eps
	}
	if c.DBSCAN.MinPts > 0 {
		cfg.MinPts = c.DBSCAN.MinPts
	}
	return cfg
}

// NamerConfig converts to the cluster package's naming config type.
func (c *Config) NamerConfig() cluster.NamerConfig {
	cfg := cluster.DefaultNamerConfig()
	if c.Naming.SampleSize > 0 {
		cfg.SampleSize = c.Naming.SampleSize
	}
	return cfg
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
