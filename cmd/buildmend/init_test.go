package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultConfigYAML_IsLoadable(t *testing.T) {
	repoRoot := t.TempDir()
	if err := writeTestFile(filepath.Join(repoRoot, defaultConfigPath), defaultConfigYAML); err != nil {
		t.Fatalf("write default config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", defaultConfigPath)

	cfg, err := loadConfig(repoRoot)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if err := cfg.Build.Validate(); err != nil {
		t.Fatalf("default build config: %v", err)
	}
}

func TestInitState_CreatesLayoutAndKeepsConfig(t *testing.T) {
	t.Parallel()

	repoRoot := t.TempDir()
	if err := initState(repoRoot); err != nil {
		t.Fatalf("init state: %v", err)
	}
	for _, sub := range []string{"runs", "locks"} {
		info, err := os.Stat(filepath.Join(repoRoot, stateDirName, sub))
		if err != nil || !info.IsDir() {
			t.Fatalf("%s dir missing: %v", sub, err)
		}
	}

	configPath := filepath.Join(repoRoot, defaultConfigPath)
	if err := os.WriteFile(configPath, []byte("memo:\n  enabled: false\n"), 0o644); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}
	if err := initState(repoRoot); err != nil {
		t.Fatalf("second init: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "memo:\n  enabled: false\n" {
		t.Fatalf("init overwrote an existing config: %q", data)
	}
}
