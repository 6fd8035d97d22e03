package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/metalagman/buildmend/internal/build"
	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/repair"
)

const appStopTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the project and repair it on an isolation branch",
		Long: "Run the configured build. When it fails, ask the model for fixes on a fresh branch, " +
			"rebuild after each round and keep the branch only if the build ends clean or within the regression threshold.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoRoot, err := fixRoot()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(repoRoot)
			if err != nil {
				return err
			}
			if maxRetries > 0 {
				cfg.Repair.MaxRetries = maxRetries
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			res, err := runSession(ctx, cfg, newWorkspace(repoRoot))
			if res.SessionID != "" {
				printOutcome(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if !res.Outcome.Success() {
				return fmt.Errorf("session %s finished %s", res.SessionID, res.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override repair.max_retries")
	return cmd
}

// runSession assembles the controller graph and runs one session.
func runSession(ctx context.Context, cfg config.Config, ws workspace) (repair.Result, error) {
	var (
		ctrl    *repair.Controller
		builder *build.Builder
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, ws),
		repairModule,
		fx.Populate(&ctrl, &builder),
	)
	if err := app.Err(); err != nil {
		return repair.Result{}, fmt.Errorf("assemble repair session: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return repair.Result{}, fmt.Errorf("start repair session: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), appStopTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown repair session")
		}
	}()

	log.Info().Str("root", ws.Root).Str("build", builder.CommandLine()).Msg("starting repair session")
	return ctrl.Run(ctx)
}
