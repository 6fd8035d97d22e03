package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/metalagman/buildmend/internal/git"
)

const defaultConfigYAML = `# buildmend configuration
build:
  compiler: gcc
  sources:
    - main.c
  output: a.out
  flags:
    - -Wall

classifier:
  max_issues: 200

context:
  window: 5
  header_lines: 5
  related_k: 2

model:
  provider: ollama
  name: qwen2.5-coder:7b
  base_url: http://localhost:11434
  timeout: 180s
  max_output_tokens: 1024
  stop:
    - "User:"
    - "System:"
  reasoning_temperature: 0.3
  structuring_temperature: 0.0

embedding:
  provider: none
  chunk_lines: 50
  extensions: [".c", ".h", ".cpp", ".hpp"]

repair:
  max_retries: 4
  regression_threshold: 20
  branch_prefix: ai-fix-

memo:
  enabled: true

retention:
  keep_last: 50
  keep_days: 30
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize buildmend in a git repository",
		Long:  "Initialize buildmend by creating the .buildmend directory and installing a default config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoRoot, err := fixRoot()
			if err != nil {
				return err
			}
			if !git.Available(cmd.Context(), repoRoot) {
				return fmt.Errorf("%s is not a git repository", repoRoot)
			}
			if err := initState(repoRoot); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "buildmend initialized successfully")
			return nil
		},
	}
}

// initState creates the state layout and writes the default config unless
// one already exists.
func initState(repoRoot string) error {
	dir := stateDir(repoRoot)
	log.Info().Str("dir", dir).Msg("creating buildmend directory")
	for _, sub := range []string{"runs", "locks"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	configPath := filepath.Join(repoRoot, defaultConfigPath)
	if _, err := os.Stat(configPath); err == nil {
		log.Info().Msg("config.yaml already exists, skipping")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	log.Info().Str("path", configPath).Msg("installing default config")
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
