// Package config loads the storage core's runtime options from a YAML
// file, mirroring cmd/repl's own use of gopkg.in/yaml.v3 for its output
// format flag. DatabaseManager takes a parsed Config value directly; there
// is no singleton ConfigManager.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

const (
	DefaultPageSize           = 4096
	DefaultPoolSize           = 128
	DefaultShardCount         = 16
	DefaultLockStripeCount    = 64
	DefaultLockTimeoutMs      = 5000
)

type DatabaseConfig struct {
	FilePath string `yaml:"file_path"`
}

type BufferPoolConfig struct {
	PoolSize   int `yaml:"pool_size"`
	ShardCount int `yaml:"shard_count"`
}

type LockConfig struct {
	StripeCount      int `yaml:"stripe_count"`
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
}

// Config is the full set of runtime options for the storage core, per
// spec §6. Zero-valued fields are defaulted in Load/applyDefaults rather
// than at the call site, so a partially-specified YAML file is still
// usable.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
	Lock       LockConfig       `yaml:"lock"`
	PageSize   int              `yaml:"page_size"`
}

// Load reads and parses path, filling in defaults for any option the file
// omits.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoFailure, op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, op, err)
	}
	cfg.applyDefaults()
	if cfg.Database.FilePath == "" {
		return nil, errs.New(errs.InvalidArgument, op, "database.file_path is required")
	}
	return &cfg, nil
}

// Default returns a Config with every option at its default, pointed at
// filePath.
func Default(filePath string) *Config {
	cfg := &Config{Database: DatabaseConfig{FilePath: filePath}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BufferPool.PoolSize <= 0 {
		c.BufferPool.PoolSize = DefaultPoolSize
	}
	if c.BufferPool.ShardCount <= 0 {
		c.BufferPool.ShardCount = DefaultShardCount
	}
	if c.Lock.StripeCount <= 0 {
		c.Lock.StripeCount = DefaultLockStripeCount
	}
	if c.Lock.DefaultTimeoutMs <= 0 {
		c.Lock.DefaultTimeoutMs = DefaultLockTimeoutMs
	}
}
