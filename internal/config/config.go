// Package config provides unified configuration for the ShopSignal pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	// InputPath is the raw event file to ingest (CSV).
	InputPath string `json:"input_path" yaml:"input_path"`

	// DataDir is the base directory for all produced artifacts.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// AsOf is the run's reference instant for recency and churn arithmetic
	// (RFC 3339). Never derived from wall-clock time; required.
	AsOf time.Time `json:"as_of" yaml:"as_of"`

	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`
	Dimension  DimensionConfig  `json:"dimension" yaml:"dimension"`
	Segment    SegmentConfig    `json:"segment" yaml:"segment"`
	Affinity   AffinityConfig   `json:"affinity" yaml:"affinity"`
	Feature    FeatureConfig    `json:"feature" yaml:"feature"`
	Retention  RetentionConfig  `json:"retention" yaml:"retention"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
}

// CompactionConfig holds compaction engine configuration.
type CompactionConfig struct {
	// MaxIDBits caps the narrowed width of product_id/user_id columns.
	// A value above this width fails the run with RANGE_OVERFLOW instead
	// of truncating. Valid: 16, 32, 64.
	MaxIDBits int `json:"max_id_bits" yaml:"max_id_bits"`

	// PriceEpsilon is the accepted relative round-trip error when prices
	// are reduced to float32.
	PriceEpsilon float64 `json:"price_epsilon" yaml:"price_epsilon"`

	// BatchPath is where the sealed batch file is written (resolved from
	// DataDir when empty).
	BatchPath string `json:"batch_path" yaml:"batch_path"`
}

// DimensionConfig holds dimensional builder configuration.
type DimensionConfig struct {
	// Shards is the number of parallel shard workers. Output is identical
	// for any shard count; this only tunes throughput.
	Shards int `json:"shards" yaml:"shards"`
}

// SegmentConfig holds RFM segmentation configuration.
type SegmentConfig struct {
	// Quantiles is the number of score buckets per metric.
	Quantiles int `json:"quantiles" yaml:"quantiles"`
}

// AffinityConfig holds affinity miner configuration.
type AffinityConfig struct {
	// MinSupport is the minimum pair count for an emitted rule.
	MinSupport int64 `json:"min_support" yaml:"min_support"`

	// MinLift is the exclusive lower bound on emitted rule lift.
	MinLift float64 `json:"min_lift" yaml:"min_lift"`

	// MaxBasketSize caps per-session pair generation. Excess products are
	// dropped deterministically (smallest ids kept) and counted.
	MaxBasketSize int `json:"max_basket_size" yaml:"max_basket_size"`
}

// FeatureConfig holds feature/split builder configuration.
type FeatureConfig struct {
	// ObservationStart/End bound the feature window (RFC 3339, half-open).
	ObservationStart time.Time `json:"observation_start" yaml:"observation_start"`
	ObservationEnd   time.Time `json:"observation_end" yaml:"observation_end"`

	// PredictionStart/End bound the label window (RFC 3339, half-open).
	PredictionStart time.Time `json:"prediction_start" yaml:"prediction_start"`
	PredictionEnd   time.Time `json:"prediction_end" yaml:"prediction_end"`
}

// RetentionConfig holds cohort retention and churn configuration.
type RetentionConfig struct {
	// ChurnedAfterDays marks a user Churned after this many inactive days.
	ChurnedAfterDays int64 `json:"churned_after_days" yaml:"churned_after_days"`

	// AtRiskAfterDays marks a user AtRisk after this many inactive days.
	AtRiskAfterDays int64 `json:"at_risk_after_days" yaml:"at_risk_after_days"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3. Empty disables publishing.
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type).
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type).
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/shopsignal",
		Compaction: CompactionConfig{
			MaxIDBits:    64,
			PriceEpsilon: 1e-5,
		},
		Dimension: DimensionConfig{
			Shards: 4,
		},
		Segment: SegmentConfig{
			Quantiles: 5,
		},
		Affinity: AffinityConfig{
			MinSupport:    3,
			MinLift:       1.2,
			MaxBasketSize: 64,
		},
		Retention: RetentionConfig{
			ChurnedAfterDays: 14,
			AtRiskAfterDays:  7,
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/shopsignal"
	}
	if c.Compaction.BatchPath == "" {
		c.Compaction.BatchPath = filepath.Join(c.DataDir, "events.batch")
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "artifacts")
	}
}

// StorePath returns the path of the SQLite analytical store.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "analytics.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.AsOf.IsZero() {
		return fmt.Errorf("as_of is required (the reference instant is an explicit input)")
	}

	switch c.Compaction.MaxIDBits {
	case 16, 32, 64:
	default:
		return fmt.Errorf("compaction.max_id_bits must be 16, 32 or 64, got %d", c.Compaction.MaxIDBits)
	}
	if c.Compaction.PriceEpsilon <= 0 {
		return fmt.Errorf("compaction.price_epsilon must be positive, got %g", c.Compaction.PriceEpsilon)
	}

	if c.Dimension.Shards < 1 {
		return fmt.Errorf("dimension.shards must be at least 1, got %d", c.Dimension.Shards)
	}

	if c.Segment.Quantiles != 5 {
		return fmt.Errorf("segment.quantiles must be 5, got %d", c.Segment.Quantiles)
	}

	if c.Affinity.MinSupport < 1 {
		return fmt.Errorf("affinity.min_support must be at least 1, got %d", c.Affinity.MinSupport)
	}
	if c.Affinity.MaxBasketSize < 2 {
		return fmt.Errorf("affinity.max_basket_size must be at least 2, got %d", c.Affinity.MaxBasketSize)
	}

	if c.Retention.AtRiskAfterDays >= c.Retention.ChurnedAfterDays {
		return fmt.Errorf("retention.at_risk_after_days (%d) must be below churned_after_days (%d)",
			c.Retention.AtRiskAfterDays, c.Retention.ChurnedAfterDays)
	}

	switch c.Storage.Type {
	case "", "local", "s3":
	default:
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// HasFeatureWindows reports whether the feature stage is configured.
func (c *Config) HasFeatureWindows() bool {
	return !c.Feature.ObservationStart.IsZero() || !c.Feature.PredictionStart.IsZero()
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

// LoadFromEnv overrides configuration from environment variables.
// Environment variables use the SHOPSIGNAL_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SHOPSIGNAL_INPUT_PATH"); v != "" {
		cfg.InputPath = v
	}
	if v := os.Getenv("SHOPSIGNAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SHOPSIGNAL_AS_OF"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			cfg.AsOf = t
		}
	}
	if v := os.Getenv("SHOPSIGNAL_DIMENSION_SHARDS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Dimension.Shards)
	}
	if v := os.Getenv("SHOPSIGNAL_AFFINITY_MIN_SUPPORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Affinity.MinSupport)
	}
	if v := os.Getenv("SHOPSIGNAL_AFFINITY_MIN_LIFT"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Affinity.MinLift)
	}
	if v := os.Getenv("SHOPSIGNAL_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SHOPSIGNAL_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SHOPSIGNAL_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SHOPSIGNAL_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("SHOPSIGNAL_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
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
