// Package report writes the per-session artifacts: raw build logs, a JSON
// report and its markdown companion.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/afero"

	"github.com/metalagman/buildmend/internal/fsroot"
	"github.com/metalagman/buildmend/internal/patch"
)

const (
	JSONFile     = "report.json"
	MarkdownFile = "report.md"
)

// Fix is one patch handled during the session.
type Fix struct {
	Round       int          `json:"round"`
	Source      string       `json:"source"`
	File        string       `json:"file"`
	Original    string       `json:"original_code"`
	Replacement string       `json:"replacement_code"`
	Status      patch.Status `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Diff        string       `json:"diff,omitempty"`
}

// Report summarizes a repair session.
type Report struct {
	SessionID     string  `json:"session_id"`
	RootCause     string  `json:"root_cause"`
	ErrorCategory string  `json:"error_category"`
	Blocking      bool    `json:"blocking"`
	Fixes         []Fix   `json:"fixes"`
	Confidence    float64 `json:"confidence"`
	Outcome       string  `json:"outcome"`
	Rounds        int     `json:"rounds"`
	Target        string  `json:"target,omitempty"`
	Branch        string  `json:"branch,omitempty"`
	Baseline      string  `json:"baseline,omitempty"`
	Errors        int     `json:"errors"`
	Warnings      int     `json:"warnings"`
}

// Confidence is the share of proposed patches that applied, 0 when nothing
// was proposed.
func Confidence(proposed, applied int) float64 {
	if proposed <= 0 {
		return 0
	}
	return float64(applied) / float64(proposed)
}

// FixesFrom converts an applier report into report entries.
func FixesFrom(round int, source string, rep patch.Report) []Fix {
	out := make([]Fix, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		out = append(out, Fix{
			Round:       round,
			Source:      source,
			File:        o.Patch.File,
			Original:    o.Patch.Original,
			Replacement: o.Patch.Replacement,
			Status:      o.Status,
			Reason:      o.Reason,
			Diff:        o.Diff,
		})
	}
	return out
}

// Writer stores artifacts in one session directory.
type Writer struct {
	fs  afero.Fs
	dir string
}

// NewWriter returns a writer for dir.
func NewWriter(fs afero.Fs, dir string) *Writer {
	return &Writer{fs: fs, dir: dir}
}

// Dir returns the session directory.
func (w *Writer) Dir() string {
	return w.dir
}

// BuildLog stores the raw log of the n-th build and returns its path.
func (w *Writer) BuildLog(n int, raw string) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("build-%d.log", n))
	if err := fsroot.WriteFile(w.fs, path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write build log: %w", err)
	}
	return path, nil
}

// Write stores report.json and report.md.
func (w *Writer) Write(r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := fsroot.WriteFile(w.fs, filepath.Join(w.dir, JSONFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := fsroot.WriteFile(w.fs, filepath.Join(w.dir, MarkdownFile), []byte(Markdown(r)), 0o644); err != nil {
		return fmt.Errorf("write report summary: %w", err)
	}
	return nil
}

// Load reads report.json from a session directory.
func Load(fs afero.Fs, dir string) (Report, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, JSONFile))
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}
	return r, nil
}

// Markdown renders the human-readable summary.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Build repair %s\n\n", r.SessionID)
	fmt.Fprintf(&b, "**Outcome:** %s · **Rounds:** %d · **Confidence:** %.0f%%\n\n", r.Outcome, r.Rounds, r.Confidence*100)
	if r.Branch != "" {
		fmt.Fprintf(&b, "**Branch:** `%s` (baseline `%s`)\n\n", r.Branch, r.Baseline)
	}
	fmt.Fprintf(&b, "**Remaining:** %d errors, %d warnings\n\n", r.Errors, r.Warnings)

	if r.Target != "" {
		b.WriteString("## Diagnostic\n\n")
		fmt.Fprintf(&b, "```\n%s\n```\n\n", r.Target)
		category := r.ErrorCategory
		if category == "" {
			category = "unknown"
		}
		fmt.Fprintf(&b, "- category: %s\n- blocking: %t\n\n", category, r.Blocking)
	}

	if strings.TrimSpace(r.RootCause) != "" {
		b.WriteString("## Root cause\n\n")
		b.WriteString(strings.TrimSpace(r.RootCause))
		b.WriteString("\n\n")
	}

	b.WriteString("## Fixes\n\n")
	if len(r.Fixes) == 0 {
		b.WriteString("No fixes were proposed.\n")
		return b.String()
	}
	for _, f := range r.Fixes {
		fmt.Fprintf(&b, "- round %d, %s, `%s`: %s", f.Round, f.Source, f.File, f.Status)
		if f.Reason != "" {
			fmt.Fprintf(&b, " (%s)", f.Reason)
		}
		b.WriteString("\n")
		if f.Diff != "" {
			fmt.Fprintf(&b, "\n```diff\n%s```\n\n", ensureNewline(f.Diff))
		}
	}
	return b.String()
}

// Render formats markdown for a terminal with the given glamour style
// ("auto", "dark", "light", "notty").
func Render(md, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
