package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/metalagman/buildmend/internal/db"
	"github.com/metalagman/buildmend/internal/repair"
)

func sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent repair sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := db.NewStore(storeDB).ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded yet")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCREATED\tROUNDS\tBRANCH\tSTATUS")
			// Status goes last: styled cells would skew tabwriter columns.
			for _, s := range sessions {
				status := outcomeStyle(repair.Outcome(s.Status)).Render(s.Status)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.CreatedAt, s.Rounds, s.Branch, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show (negative for all)")
	cmd.AddCommand(sessionsPruneCmd())
	return cmd
}

func sessionsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old sessions from disk and database",
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

			policy := db.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = db.RetentionPolicy{
					KeepLast: cfg.Retention.KeepLast,
					KeepDays: cfg.Retention.KeepDays,
				}
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in %s)", defaultConfigPath)
			}

			release, err := repair.AcquireLock(stateDir(repoRoot))
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			res, err := db.NewStore(storeDB).PruneSessions(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d sessions (kept %d, skipped %d)", mode, res.Deleted, res.Kept, res.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N sessions")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep sessions newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
