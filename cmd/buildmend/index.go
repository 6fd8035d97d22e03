package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/metalagman/buildmend/internal/index"
	"github.com/metalagman/buildmend/internal/llm"
)

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Embed source chunks for related-code lookups",
		Long: "Walk the fix root (or dir, relative to it) for the configured extensions, split files into chunks, " +
			"embed them and replace the similarity index.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, repoRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			cfg, err := loadConfig(repoRoot)
			if err != nil {
				return err
			}
			embedder, err := llm.NewEmbedder(cfg.Embedding, nil)
			if err != nil {
				return err
			}

			dir := repoRoot
			if len(args) == 1 {
				dir = args[0]
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(repoRoot, dir)
				}
			}

			idx := index.New(storeDB, afero.NewOsFs(), embedder, index.Options{
				ChunkLines: cfg.Embedding.ChunkLines,
				Extensions: cfg.Embedding.Extensions,
			})
			stats, err := idx.Build(cmd.Context(), dir)
			if errors.Is(err, index.ErrNoEmbedder) {
				return fmt.Errorf("%w: set embedding.provider in %s", err, defaultConfigPath)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks from %d files\n", stats.Chunks, stats.Files)
			return nil
		},
	}
}
