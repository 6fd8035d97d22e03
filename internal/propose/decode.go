package propose

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawFix is a fix as the model wrote it, before sanitation.
type rawFix struct {
	File            string `json:"file"             yaml:"file"`
	OriginalCode    string `json:"original_code"    yaml:"original_code"`
	ReplacementCode string `json:"replacement_code" yaml:"replacement_code"`
}

type envelope struct {
	Fixes *[]rawFix `json:"fixes" yaml:"fixes"`
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	fixesArrRe  = regexp.MustCompile(`(?s)["']fixes["']\s*:\s*(\[.*\])`)
	literalEsc  = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\'`, `'`, `\\`, `\`)
)

// decodeFixes recovers the fixes list from model output. Strategies run in
// order and the first one that yields a fixes list wins.
func decodeFixes(output string) ([]rawFix, string, bool) {
	candidate := strings.TrimSpace(output)
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	candidate = extractObject(candidate)

	if fixes, ok := strictJSON(candidate); ok {
		return fixes, "json", true
	}

	escaped := escapeControlChars(candidate)
	// YAML folds raw newlines inside double-quoted scalars into spaces, which
	// would silently corrupt code. Such input is left to the escaping step.
	if escaped == candidate {
		if fixes, ok := literal(candidate); ok {
			return fixes, "literal", true
		}
	}

	if fixes, ok := fixesArray(candidate); ok {
		return fixes, "fixes-array", true
	}

	if escaped != candidate {
		if fixes, ok := strictJSON(escaped); ok {
			return fixes, "escaped-json", true
		}
		if fixes, ok := fixesArray(escaped); ok {
			return fixes, "escaped-fixes-array", true
		}
	}
	return nil, "", false
}

// extractObject trims prose around the outermost JSON object.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func strictJSON(s string) ([]rawFix, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil || env.Fixes == nil {
		return nil, false
	}
	return *env.Fixes, true
}

// literal accepts single-quoted strings and trailing commas by reading the
// candidate as a YAML flow mapping.
func literal(s string) ([]rawFix, bool) {
	var env envelope
	if err := yaml.Unmarshal([]byte(s), &env); err != nil || env.Fixes == nil {
		return nil, false
	}
	fixes := *env.Fixes
	for i := range fixes {
		fixes[i].OriginalCode = unescapeLiteral(fixes[i].OriginalCode)
		fixes[i].ReplacementCode = unescapeLiteral(fixes[i].ReplacementCode)
	}
	return fixes, true
}

// unescapeLiteral resolves backslash escapes that single-quoted YAML keeps
// verbatim, so 'a\nb' means the same as "a\nb".
func unescapeLiteral(s string) string {
	if strings.Contains(s, "\n") || !strings.Contains(s, `\`) {
		return s
	}
	return literalEsc.Replace(s)
}

func fixesArray(s string) ([]rawFix, bool) {
	m := fixesArrRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	var fixes []rawFix
	if err := json.Unmarshal([]byte(m[1]), &fixes); err != nil {
		return nil, false
	}
	return fixes, true
}

// escapeControlChars escapes raw newlines, carriage returns and tabs that
// appear inside double-quoted strings.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteRune(r)
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = false
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
