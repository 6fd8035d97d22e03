package propose

import (
	"regexp"
	"strings"

	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/excerpt"
	"github.com/metalagman/buildmend/internal/patch"
)

// Matches the excerpt gutter (">> 12  : ", "   7: ", "12| ").
var lineNumberRe = regexp.MustCompile(`^(?:>>)?[ \t]*\d+[ \t]*[:|] ?`)

// sanitize turns decoded fixes into trusted patches for issue. It strips
// echoed line-number gutters, drops fixes quoting the skip marker, replaces
// the file with the diagnostic's file and drops anything still invalid.
// Repeats of an earlier fix count as dropped.
func sanitize(fixes []rawFix, issue diag.Issue) ([]patch.Patch, int) {
	var (
		out     []patch.Patch
		dropped int
		seen    = make(map[patch.Patch]struct{})
	)
	for _, f := range fixes {
		if strings.Contains(f.OriginalCode, excerpt.SkipMarker) {
			dropped++
			continue
		}
		p := patch.Patch{
			File:        strings.TrimSpace(f.File),
			Original:    stripLineNumbers(f.OriginalCode),
			Replacement: stripLineNumbers(f.ReplacementCode),
		}
		if issue.File != "" {
			p.File = issue.File
		}
		if err := p.Validate(); err != nil {
			dropped++
			continue
		}
		if _, dup := seen[p]; dup {
			dropped++
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, dropped
}

// stripLineNumbers removes echoed gutters. Only text whose first non-blank
// line carries the gutter is treated as an echoed excerpt; lines in it
// without a gutter are kept as they are. Code that merely starts with
// digits further down is left alone.
func stripLineNumbers(s string) string {
	lines := strings.Split(s, "\n")
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if !lineNumberRe.MatchString(l) {
			return s
		}
		break
	}
	for i, l := range lines {
		lines[i] = lineNumberRe.ReplaceAllString(l, "")
	}
	return strings.Join(lines, "\n")
}
