package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metalagman/buildmend/internal/logging"
)

const stateDirName = ".buildmend"

var defaultConfigPath = filepath.Join(stateDirName, "config.yaml")

var (
	cfgFile string
	rootDir string
	debug   bool
	rootCmd = &cobra.Command{
		Use:           "buildmend",
		Short:         "buildmend repairs failing C/C++ builds with a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path, relative to the fix root")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "fix root (defaults to the current directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init(debug)
		root, err := fixRoot()
		if err != nil {
			return err
		}
		return loadDotEnv(root)
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(initCmd())
	return rootCmd.Execute()
}

// loadDotEnv exports provider keys from an optional .env in the fix root.
// Variables already set in the environment win.
func loadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("loaded environment file")
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
}
