package main

import (
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/metalagman/buildmend/internal/config"
)

// loadConfig reads the config selected by --config. Relative paths resolve
// against the fix root.
func loadConfig(repoRoot string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	return config.Load(viper.New(), path)
}
