package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/metalagman/buildmend/internal/db"
	"github.com/metalagman/buildmend/internal/report"
)

func reportCmd() *cobra.Command {
	var (
		style string
		width int
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Show the report of a session (the latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			sess, err := findSession(cmd.Context(), db.NewStore(storeDB), id)
			if err != nil {
				return err
			}

			md, err := loadMarkdown(afero.NewOsFs(), sess.RunDir)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}
			out, err := report.Render(md, style, width)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "auto", "glamour style: auto, dark, light or notty")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering")
	return cmd
}

// findSession resolves id, or the most recent session when id is empty.
func findSession(ctx context.Context, store *db.Store, id string) (db.Session, error) {
	if id == "" {
		recent, err := store.ListSessions(ctx, 1)
		if err != nil {
			return db.Session{}, err
		}
		if len(recent) == 0 {
			return db.Session{}, errors.New("no sessions recorded yet")
		}
		return recent[0], nil
	}
	sess, ok, err := store.GetSession(ctx, id)
	if err != nil {
		return db.Session{}, err
	}
	if !ok {
		return db.Session{}, fmt.Errorf("session %s not found", id)
	}
	return sess, nil
}

// loadMarkdown prefers report.md and regenerates it from report.json when
// only the data file survived.
func loadMarkdown(fsys afero.Fs, dir string) (string, error) {
	data, err := afero.ReadFile(fsys, filepath.Join(dir, report.MarkdownFile))
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read report: %w", err)
	}
	r, err := report.Load(fsys, dir)
	if err != nil {
		return "", err
	}
	return report.Markdown(r), nil
}
