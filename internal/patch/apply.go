package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/afero"

	"github.com/metalagman/buildmend/internal/fsroot"
)

// Applier writes patches into files under a fix root. Calls must not run
// concurrently against overlapping files.
type Applier struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger
}

// NewApplier returns an applier rooted at root.
func NewApplier(fs afero.Fs, root string) *Applier {
	return &Applier{
		fs:     fs,
		root:   root,
		logger: log.With().Str("component", "applier").Logger(),
	}
}

// Apply applies each patch independently, in order. Per-patch failures are
// recorded in the report and never stop the batch.
func (a *Applier) Apply(patches []Patch) Report {
	report := Report{Outcomes: make([]Outcome, 0, len(patches))}
	for _, p := range patches {
		o := a.applyOne(p)
		ev := a.logger.Info()
		if o.Status != StatusApplied {
			ev = a.logger.Warn().Str("reason", o.Reason)
		}
		ev.Str("file", p.File).Str("status", string(o.Status)).Msg("patch processed")
		report.Outcomes = append(report.Outcomes, o)
	}
	return report
}

func (a *Applier) applyOne(p Patch) Outcome {
	out := Outcome{Patch: p}
	if err := p.Validate(); err != nil {
		out.Status = StatusInvalid
		out.Reason = err.Error()
		return out
	}

	path, err := fsroot.Resolve(a.root, p.File)
	if err != nil {
		out.Status = StatusMissing
		out.Reason = err.Error()
		return out
	}
	out.Path = path

	info, err := a.fs.Stat(path)
	if err != nil {
		out.Status = StatusMissing
		if !errors.Is(err, os.ErrNotExist) {
			out.Status = StatusFailed
		}
		out.Reason = err.Error()
		return out
	}
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		out.Status = StatusFailed
		out.Reason = fmt.Sprintf("read: %v", err)
		return out
	}

	raw := string(data)
	content, offsets := normalizeWithOffsets(raw)
	original := normalize(p.Original)
	replacement := normalize(p.Replacement)

	idx := strings.Index(content, original)
	if idx < 0 {
		out.Status = StatusMismatch
		out.Reason = "original code not found"
		return out
	}
	if original == replacement {
		out.Status = StatusUnchanged
		out.Reason = "replacement equals original"
		return out
	}

	// Splice into the raw bytes so lines outside the match keep their endings.
	rawStart, rawEnd := offsets[idx], offsets[idx+len(original)]
	eol := lineEnding(raw, rawStart)
	written := raw[:rawStart] + strings.ReplaceAll(replacement, "\n", eol) + raw[rawEnd:]
	if err := fsroot.WriteFile(a.fs, path, []byte(written), info.Mode().Perm()); err != nil {
		out.Status = StatusFailed
		out.Reason = err.Error()
		return out
	}

	out.Status = StatusApplied
	rel, relErr := filepath.Rel(a.root, path)
	if relErr != nil {
		rel = p.File
	}
	d, err := unifiedDiff(filepath.ToSlash(rel), content, idx, len(original), replacement)
	if err != nil {
		a.logger.Debug().Err(err).Str("file", rel).Msg("render diff")
	}
	out.Diff = d
	return out
}

// normalize maps CRLF and lone CR line endings to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// normalizeWithOffsets is normalize that also returns, for every byte of the
// result and for its end, the matching offset in raw.
func normalizeWithOffsets(raw string) (string, []int) {
	var b strings.Builder
	b.Grow(len(raw))
	offsets := make([]int, 0, len(raw)+1)
	for i := 0; i < len(raw); i++ {
		offsets = append(offsets, i)
		if raw[i] != '\r' {
			b.WriteByte(raw[i])
			continue
		}
		b.WriteByte('\n')
		if i+1 < len(raw) && raw[i+1] == '\n' {
			i++
		}
	}
	offsets = append(offsets, len(raw))
	return b.String(), offsets
}

// lineEnding returns the terminator of the line holding pos, or of the line
// before it when the file ends without one.
func lineEnding(raw string, pos int) string {
	if eol := terminatorAt(raw, strings.IndexAny(raw[pos:], "\r\n"), pos); eol != "" {
		return eol
	}
	if i := strings.LastIndexAny(raw[:pos], "\r\n"); i >= 0 {
		if raw[i] == '\n' && i > 0 && raw[i-1] == '\r' {
			return "\r\n"
		}
		return raw[i : i+1]
	}
	return "\n"
}

func terminatorAt(raw string, rel, base int) string {
	if rel < 0 {
		return ""
	}
	i := base + rel
	if raw[i] == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
		return "\r\n"
	}
	return raw[i : i+1]
}

// unifiedDiff renders a single-hunk diff for replacing content[idx:idx+n]
// with replacement, widened to whole lines.
func unifiedDiff(name, content string, idx, n int, replacement string) (string, error) {
	lineStart := strings.LastIndex(content[:idx], "\n") + 1
	end := idx + n
	lineEnd := len(content)
	if i := strings.Index(content[end:], "\n"); i >= 0 {
		lineEnd = end + i
	}

	oldBlock := content[lineStart:lineEnd]
	newBlock := content[lineStart:idx] + replacement + content[end:lineEnd]
	if strings.HasSuffix(oldBlock, "\n") && strings.HasSuffix(newBlock, "\n") {
		oldBlock = strings.TrimSuffix(oldBlock, "\n")
		newBlock = strings.TrimSuffix(newBlock, "\n")
	}
	oldLines := strings.Split(oldBlock, "\n")
	newLines := strings.Split(newBlock, "\n")

	var body strings.Builder
	for _, l := range oldLines {
		body.WriteString("-" + l + "\n")
	}
	for _, l := range newLines {
		body.WriteString("+" + l + "\n")
	}

	start := int32(strings.Count(content[:lineStart], "\n") + 1)
	fd := &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks: []*diff.Hunk{{
			OrigStartLine: start,
			OrigLines:     int32(len(oldLines)),
			NewStartLine:  start,
			NewLines:      int32(len(newLines)),
			Body:          []byte(body.String()),
		}},
	}
	b, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
