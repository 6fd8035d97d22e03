package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/metalagman/buildmend/internal/repair"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func outcomeStyle(o repair.Outcome) lipgloss.Style {
	switch o {
	case repair.OutcomeDone, repair.OutcomeAccepted:
		return successStyle
	case repair.OutcomeStopped:
		return warnStyle
	default:
		return errorStyle
	}
}

func printOutcome(w io.Writer, res repair.Result) {
	fmt.Fprintf(w, "%s %s\n", outcomeStyle(res.Outcome).Render(string(res.Outcome)), mutedStyle.Render(res.SessionID))
	if res.Branch != "" {
		fmt.Fprintf(w, "  branch:   %s (baseline %s)\n", res.Branch, res.Baseline)
	}
	fmt.Fprintf(w, "  rounds:   %d, builds: %d\n", res.Rounds, res.Builds)
	fmt.Fprintf(w, "  errors:   %d, warnings: %d\n", len(res.LastBuild.Issues.Errors), len(res.LastBuild.Issues.Warnings))
	if res.RevertErr != nil {
		fmt.Fprintf(w, "  %s %v\n", errorStyle.Render("revert failed:"), res.RevertErr)
	}
}
