package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesYAML(t *testing.T) {
	repoRoot := t.TempDir()
	if err := writeTestFile(filepath.Join(repoRoot, defaultConfigPath), `build:
  compiler: clang
  sources: [main.c, util.c]
model:
  provider: openai
  name: gpt-4o-mini
  timeout: 30
repair:
  max_retries: 2
retention:
  keep_last: 10
  keep_days: 5
`); err != nil {
		t.Fatalf("write yaml config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", defaultConfigPath)

	cfg, err := loadConfig(repoRoot)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Build.Compiler != "clang" || len(cfg.Build.Sources) != 2 {
		t.Fatalf("build = %+v, want clang with two sources", cfg.Build)
	}
	if cfg.Model.Timeout != 30*time.Second {
		t.Fatalf("model.timeout = %s, want 30s", cfg.Model.Timeout)
	}
	if cfg.Repair.MaxRetries != 2 {
		t.Fatalf("repair.max_retries = %d, want 2", cfg.Repair.MaxRetries)
	}
	if cfg.Repair.RegressionThreshold != 20 {
		t.Fatalf("repair.regression_threshold = %d, want default 20", cfg.Repair.RegressionThreshold)
	}
	if cfg.Retention.KeepLast != 10 || cfg.Retention.KeepDays != 5 {
		t.Fatalf("retention = %+v, want keep_last=10 keep_days=5", cfg.Retention)
	}
}

func TestLoadConfig_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elsewhere.yaml")
	if err := writeTestFile(path, "repair:\n  max_retries: 7\n"); err != nil {
		t.Fatalf("write yaml config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", path)

	cfg, err := loadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Repair.MaxRetries != 7 {
		t.Fatalf("repair.max_retries = %d, want 7", cfg.Repair.MaxRetries)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := loadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Model.Provider != "ollama" {
		t.Fatalf("model.provider = %q, want ollama", cfg.Model.Provider)
	}
	if cfg.Retention.KeepLast != 50 {
		t.Fatalf("retention.keep_last = %d, want 50", cfg.Retention.KeepLast)
	}
}

func TestLoadConfig_RejectsInvalidYAML(t *testing.T) {
	repoRoot := t.TempDir()
	if err := writeTestFile(filepath.Join(repoRoot, defaultConfigPath), "repair:\n  max_retries: 0\n"); err != nil {
		t.Fatalf("write yaml config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", defaultConfigPath)

	if _, err := loadConfig(repoRoot); err == nil {
		t.Fatal("load config succeeded, want schema error")
	}
}

func writeTestFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
