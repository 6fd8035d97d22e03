// Package excerpt renders the source context handed to the model for one
// diagnostic. It never fails: every I/O problem degrades to placeholder text.
package excerpt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/fsroot"
)

// SkipMarker separates the file start block from the error window. A model
// that echoes it back as source is quoting the excerpt, not the file.
const SkipMarker = "...skipped..."

const (
	defaultWindow      = 5
	defaultHeaderLines = 5
)

// Match is one similarity hit from the offline index.
type Match struct {
	File  string
	Code  string
	Score float64
}

// Searcher finds code related to a query. Implementations return no
// results rather than failing hard.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Match, error)
}

// Options tunes excerpt size.
type Options struct {
	Window      int
	HeaderLines int
	RelatedK    int
}

// Extractor builds context text for issues under a fix root.
type Extractor struct {
	fs       afero.Fs
	root     string
	opts     Options
	searcher Searcher
}

// New returns an extractor. searcher may be nil.
func New(fs afero.Fs, root string, opts Options, searcher Searcher) *Extractor {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.HeaderLines < 0 {
		opts.HeaderLines = 0
	}
	return &Extractor{fs: fs, root: root, opts: opts, searcher: searcher}
}

var (
	symbolIssueRe = regexp.MustCompile(`(?i)undefined reference|implicit declaration`)
	quotedRe      = regexp.MustCompile("['‘`]([^'’`]+)['’`]")
)

// Extract returns the excerpt for issue followed by related code blocks.
func (e *Extractor) Extract(ctx context.Context, issue diag.Issue) string {
	var b strings.Builder
	b.WriteString(e.local(issue))

	if related := e.related(ctx, issue); related != "" {
		b.WriteString("\n\n")
		b.WriteString(related)
	}
	return b.String()
}

func (e *Extractor) local(issue diag.Issue) string {
	if issue.File == "" {
		return "[No file reference found in error]"
	}
	if issue.Line <= 0 {
		return fmt.Sprintf("[No line number found in error for %s]", issue.File)
	}
	path, err := fsroot.Resolve(e.root, issue.File)
	if err != nil {
		return fmt.Sprintf("[File not found: %s]", issue.File)
	}
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Sprintf("[File not found: %s]", path)
		}
		return fmt.Sprintf("[Error reading file %s: %v]", path, err)
	}

	lines := splitLines(string(data))
	if issue.Line > len(lines) {
		return fmt.Sprintf("[Line %d is past the end of %s (%d lines)]", issue.Line, issue.File, len(lines))
	}

	start := max(1, issue.Line-e.opts.Window)
	end := min(len(lines), issue.Line+e.opts.Window)

	var b strings.Builder
	// A file start block adjacent to the window is folded into it.
	if e.opts.HeaderLines > 0 && start <= e.opts.HeaderLines+1 {
		start = 1
	}
	if start > 1 && e.opts.HeaderLines > 0 {
		fmt.Fprintf(&b, "File start (%s):\n", issue.File)
		writeLines(&b, lines, 1, min(e.opts.HeaderLines, len(lines)), 0)
		b.WriteString(SkipMarker)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Error context (%s:%d):\n", issue.File, issue.Line)
	writeLines(&b, lines, start, end, issue.Line)
	return strings.TrimRight(b.String(), "\n")
}

func (e *Extractor) related(ctx context.Context, issue diag.Issue) string {
	if e.searcher == nil || e.opts.RelatedK <= 0 || !symbolIssueRe.MatchString(issue.Raw) {
		return ""
	}
	query := Symbol(issue.Raw)
	matches, err := e.searcher.Search(ctx, query, e.opts.RelatedK)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("related code search failed")
		return ""
	}
	if len(matches) > e.opts.RelatedK {
		matches = matches[:e.opts.RelatedK]
	}
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Related code (%s):\n%s", m.File, strings.TrimRight(m.Code, "\n"))
	}
	return b.String()
}

// Symbol extracts the quoted symbol of an unresolved-symbol diagnostic, or
// returns the whole line when nothing is quoted.
func Symbol(raw string) string {
	if m := quotedRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// writeLines renders lines[from..to] (1-based, inclusive), marking target.
func writeLines(b *strings.Builder, lines []string, from, to, target int) {
	for n := from; n <= to; n++ {
		marker := "   "
		if n == target {
			marker = ">> "
		}
		fmt.Fprintf(b, "%s%-4d: %s\n", marker, n, lines[n-1])
	}
}
