// Package config loads blockpack's runtime configuration, layering CLI
// flags, environment variables, a config file, and defaults the way
// pkg/config in the retrieval pack layers dittofs's.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/blockpack/blockpack/internal/blockproc"
)

// Config is the top-level configuration for a blockpackd process.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (BLOCKPACK_*)
//  2. Configuration file (YAML)
//  3. Defaults
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" validate:"required"`
	Index   IndexConfig   `mapstructure:"index" yaml:"index" validate:"required"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload" validate:"required"`
}

// LoggingConfig controls the package-level logger (internal/logging).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=trace debug info warn error fatal panic"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// PipelineConfig configures the Pipeline Core shards.
type PipelineConfig struct {
	Shards           int    `mapstructure:"shards" yaml:"shards" validate:"required,min=1"`
	VolumeSize       int64  `mapstructure:"volume_size_bytes" yaml:"volume_size_bytes" validate:"required,gt=1024"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level" validate:"min=1,max=22"`
	IndexFilePolicy  string `mapstructure:"index_file_policy" yaml:"index_file_policy" validate:"required,oneof=none lookup full"`
	VolumeDir        string `mapstructure:"volume_dir" yaml:"volume_dir" validate:"required"`
	InputBufferSize  int    `mapstructure:"input_buffer_size" yaml:"input_buffer_size" validate:"min=0"`
	OutputBufferSize int    `mapstructure:"output_buffer_size" yaml:"output_buffer_size" validate:"min=0"`
}

// IndexConfig configures the durable Block Index Client (C1) backend.
type IndexConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"required,oneof=badger memory"`
	Dir     string `mapstructure:"dir" yaml:"dir" validate:"required_if=Backend badger"`
}

// UploadConfig configures where closed volumes are transmitted to.
type UploadConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend" validate:"required,oneof=local s3"`
	LocalDir  string        `mapstructure:"local_dir" yaml:"local_dir" validate:"required_if=Backend local"`
	S3Bucket  string        `mapstructure:"s3_bucket" yaml:"s3_bucket" validate:"required_if=Backend s3"`
	S3Prefix  string        `mapstructure:"s3_prefix" yaml:"s3_prefix"`
	S3Region  string        `mapstructure:"s3_region" yaml:"s3_region" validate:"required_if=Backend s3"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"omitempty,gt=0"`
}

// Options converts pipeline configuration into blockproc.Options.
func (p PipelineConfig) Options() blockproc.Options {
	policy := blockproc.IndexPolicyNone
	switch p.IndexFilePolicy {
	case "lookup":
		policy = blockproc.IndexPolicyLookup
	case "full":
		policy = blockproc.IndexPolicyFull
	}
	return blockproc.Options{
		VolumeSize:       p.VolumeSize,
		IndexFilePolicy:  policy,
		CompressionLevel: p.CompressionLevel,
	}
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: false, Addr: "127.0.0.1:9090"},
		Pipeline: PipelineConfig{
			Shards:           1,
			VolumeSize:       256 << 20,
			CompressionLevel: 3,
			IndexFilePolicy:  "none",
			VolumeDir:        "/var/lib/blockpack/volumes",
			InputBufferSize:  64,
			OutputBufferSize: 16,
		},
		Index: IndexConfig{Backend: "badger", Dir: "/var/lib/blockpack/index"},
		Upload: UploadConfig{Backend: "local", LocalDir: "/var/lib/blockpack/uploaded", Timeout: 30 * time.Second},
	}
}

// Load layers defaults, an optional YAML config file, and BLOCKPACK_*
// environment variables, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	cfg := Default()
	if err := bindDefaults(v, cfg); err != nil {
		return nil, fmt.Errorf("config: bind defaults: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BLOCKPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("blockpack")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/blockpack")
}

// bindDefaults seeds viper with Default()'s values so env vars and the
// config file only need to override what they care about.
func bindDefaults(v *viper.Viper, cfg *Config) error {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("pipeline.shards", cfg.Pipeline.Shards)
	v.SetDefault("pipeline.volume_size_bytes", cfg.Pipeline.VolumeSize)
	v.SetDefault("pipeline.compression_level", cfg.Pipeline.CompressionLevel)
	v.SetDefault("pipeline.index_file_policy", cfg.Pipeline.IndexFilePolicy)
	v.SetDefault("pipeline.volume_dir", cfg.Pipeline.VolumeDir)
	v.SetDefault("pipeline.input_buffer_size", cfg.Pipeline.InputBufferSize)
	v.SetDefault("pipeline.output_buffer_size", cfg.Pipeline.OutputBufferSize)
	v.SetDefault("index.backend", cfg.Index.Backend)
	v.SetDefault("index.dir", cfg.Index.Dir)
	v.SetDefault("upload.backend", cfg.Upload.Backend)
	v.SetDefault("upload.local_dir", cfg.Upload.LocalDir)
	v.SetDefault("upload.s3_prefix", cfg.Upload.S3Prefix)
	v.SetDefault("upload.timeout", cfg.Upload.Timeout)
	return nil
}

// Validate runs go-playground/validator struct-tag validation, then checks
// the one cross-field rule struct tags alone can't express: VolumeSize
// must exceed the fixed compression overhead the capacity planner
// subtracts from it.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Pipeline.VolumeSize <= blockproc.BlockCompressionOverhead {
		return fmt.Errorf("pipeline.volume_size_bytes must exceed %d", blockproc.BlockCompressionOverhead)
	}
	return nil
}
