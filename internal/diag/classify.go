package diag

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxIssues bounds the number of issues retained from one log.
const DefaultMaxIssues = 200

type pattern struct {
	category string
	re       *regexp.Regexp
}

// Fatal patterns are checked before warning patterns. Within a class the
// first matching pattern names the category, so the specific markers come
// before the generic ones.
var errorPatterns = []pattern{
	{category: "fatal", re: regexp.MustCompile(`(?i)fatal error:`)},
	{category: "undefined_reference", re: regexp.MustCompile(`(?i)undefined reference`)},
	{category: "linker", re: regexp.MustCompile(`(?i)ld: error|collect2:`)},
	{category: "error", re: regexp.MustCompile(`(?i)error:`)},
}

var warningPatterns = []pattern{
	{category: "uninitialized", re: regexp.MustCompile(`(?i)may be used uninitialized`)},
	{category: "unused", re: regexp.MustCompile(`(?i)unused (variable|parameter|function)`)},
	{category: "deprecated", re: regexp.MustCompile(`(?i)deprecated`)},
	{category: "warning", re: regexp.MustCompile(`(?i)warning:`)},
	{category: "flag", re: regexp.MustCompile(`(?i)-W[A-Za-z-]+`)},
}

var (
	// Optional drive letter keeps Windows paths intact.
	locationRe = regexp.MustCompile(`((?:[A-Za-z]:)?[^:\s]+):(\d+)(?::(\d+))?:`)
	markerRe   = regexp.MustCompile(`(?i)(?:fatal error|error|warning|note):\s*`)
	spaceRe    = regexp.MustCompile(`\s+`)
	quotes     = strings.NewReplacer("‘", "'", "’", "'", "`", "'", "\"", "'")
)

// Classifier parses build logs. It is stateless and safe for concurrent use.
type Classifier struct {
	maxIssues int
}

// NewClassifier returns a classifier retaining at most maxIssues issues per
// log. Non-positive values select DefaultMaxIssues.
func NewClassifier(maxIssues int) *Classifier {
	if maxIssues <= 0 {
		maxIssues = DefaultMaxIssues
	}
	return &Classifier{maxIssues: maxIssues}
}

// Classify scans log line by line. Lines matching neither class are dropped.
func (c *Classifier) Classify(log string) Result {
	var res Result
	for _, line := range strings.Split(log, "\n") {
		if res.Total() >= c.maxIssues {
			break
		}
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if category, ok := match(errorPatterns, line); ok {
			res.Errors = append(res.Errors, newIssue(KindError, category, line))
			continue
		}
		if category, ok := match(warningPatterns, line); ok {
			res.Warnings = append(res.Warnings, newIssue(KindWarning, category, line))
		}
	}
	return res
}

// Classify uses a classifier with the default cap.
func Classify(log string) Result {
	return NewClassifier(DefaultMaxIssues).Classify(log)
}

func match(patterns []pattern, line string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(line) {
			return p.category, true
		}
	}
	return "", false
}

func newIssue(kind Kind, category, line string) Issue {
	issue := Issue{
		Kind:     kind,
		Raw:      line,
		Category: category,
	}
	rest := line
	if m := locationRe.FindStringSubmatchIndex(line); m != nil {
		issue.File = line[m[2]:m[3]]
		issue.Line, _ = strconv.Atoi(line[m[4]:m[5]])
		if m[6] >= 0 {
			issue.Column, _ = strconv.Atoi(line[m[6]:m[7]])
		}
		rest = line[m[1]:]
	}
	issue.Message = normalizeMessage(rest)
	return issue
}

// ParseLocation extracts the file and 1-based line referenced by a
// diagnostic line.
func ParseLocation(line string) (string, int, bool) {
	m := locationRe.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return m[1], 0, false
	}
	return m[1], n, true
}

func normalizeMessage(s string) string {
	if loc := markerRe.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = quotes.Replace(s)
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.ToLower(s)
}
