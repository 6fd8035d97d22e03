package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/metalagman/buildmend/internal/diag"
)

func classifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify [log-file]",
		Short: "Classify compiler output into errors and warnings",
		Long:  "Classify a saved build log, or standard input when no file is given, without touching the working tree.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := fixRoot()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(repoRoot)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open log: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}

			res := diag.NewClassifier(cfg.Classifier.MaxIssues).Classify(string(raw))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printIssues(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print issues as JSON")
	return cmd
}

func printIssues(w io.Writer, res diag.Result) {
	fmt.Fprintf(w, "%s %d, %s %d\n",
		errorStyle.Render("errors:"), len(res.Errors),
		warnStyle.Render("warnings:"), len(res.Warnings))
	for _, issue := range res.Errors {
		fmt.Fprintf(w, "  E [%s] %s\n", issue.Category, issue.Raw)
	}
	for _, issue := range res.Warnings {
		fmt.Fprintf(w, "  W [%s] %s\n", issue.Category, issue.Raw)
	}
}
