package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfigFile(t, "database:\n  file_path: /var/data/db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", cfg.PageSize, DefaultPageSize)
	}
	if cfg.BufferPool.PoolSize != DefaultPoolSize {
		t.Errorf("PoolSize = %d, want %d", cfg.BufferPool.PoolSize, DefaultPoolSize)
	}
	if cfg.BufferPool.ShardCount != DefaultShardCount {
		t.Errorf("ShardCount = %d, want %d", cfg.BufferPool.ShardCount, DefaultShardCount)
	}
	if cfg.Lock.StripeCount != DefaultLockStripeCount {
		t.Errorf("StripeCount = %d, want %d", cfg.Lock.StripeCount, DefaultLockStripeCount)
	}
	if cfg.Lock.DefaultTimeoutMs != DefaultLockTimeoutMs {
		t.Errorf("DefaultTimeoutMs = %d, want %d", cfg.Lock.DefaultTimeoutMs, DefaultLockTimeoutMs)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfigFile(t, ""+
		"database:\n  file_path: /var/data/db\n"+
		"page_size: 8192\n"+
		"buffer_pool:\n  pool_size: 256\n  shard_count: 32\n"+
		"lock:\n  stripe_count: 128\n  default_timeout_ms: 9000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageSize != 8192 {
		t.Errorf("PageSize = %d, want 8192", cfg.PageSize)
	}
	if cfg.BufferPool.PoolSize != 256 || cfg.BufferPool.ShardCount != 32 {
		t.Errorf("BufferPool = %+v, want {256 32}", cfg.BufferPool)
	}
	if cfg.Lock.StripeCount != 128 || cfg.Lock.DefaultTimeoutMs != 9000 {
		t.Errorf("Lock = %+v, want {128 9000}", cfg.Lock)
	}
}

func TestLoadMissingFilePathFails(t *testing.T) {
	path := writeConfigFile(t, "page_size: 4096\n")
	if _, err := Load(path); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for missing database.file_path, got %v", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errs.Is(err, errs.IoFailure) {
		t.Fatalf("expected IoFailure for missing file, got %v", err)
	}
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := writeConfigFile(t, "database: [this is not a mapping\n")
	if _, err := Load(path); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for malformed YAML, got %v", err)
	}
}

func TestDefaultFillsEveryOption(t *testing.T) {
	cfg := Default("/var/data/db")
	if cfg.Database.FilePath != "/var/data/db" {
		t.Errorf("FilePath = %q, want /var/data/db", cfg.Database.FilePath)
	}
	if cfg.PageSize != DefaultPageSize || cfg.BufferPool.PoolSize != DefaultPoolSize {
		t.Errorf("Default() did not fill expected defaults: %+v", cfg)
	}
}
