// Package diag turns raw compiler output into typed, ordered issues.
package diag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Kind separates blocking diagnostics from advisory ones.
type Kind int

const (
	// KindError is a fatal or blocking diagnostic.
	KindError Kind = iota
	// KindWarning is a non-blocking diagnostic.
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Issue is one classified diagnostic line. Issues are values and are never
// mutated after Classify returns them.
type Issue struct {
	Kind     Kind   `json:"kind"`
	Raw      string `json:"raw"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// HasLocation reports whether both a file and a line were parsed.
func (i Issue) HasLocation() bool {
	return i.File != "" && i.Line > 0
}

// Key is the identity of the problem the issue describes. Two issues with
// the same key are the same problem even if they came from different builds.
func (i Issue) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s", i.Kind, i.File, i.Line, i.Message)
}

// Same reports whether both issues describe the same problem.
func (i Issue) Same(other Issue) bool {
	return i.Key() == other.Key()
}

func (i Issue) String() string {
	return i.Raw
}

// Result is the classified content of one build log.
type Result struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Clean reports whether no error and no warning was found.
func (r Result) Clean() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// Total is the number of retained issues.
func (r Result) Total() int {
	return len(r.Errors) + len(r.Warnings)
}

// Target returns the issue to address next: the first error, otherwise the
// first warning.
func (r Result) Target() (Issue, bool) {
	if len(r.Errors) > 0 {
		return r.Errors[0], true
	}
	if len(r.Warnings) > 0 {
		return r.Warnings[0], true
	}
	return Issue{}, false
}

// Contains reports whether an issue describing the same problem is present.
func (r Result) Contains(issue Issue) bool {
	list := r.Warnings
	if issue.Kind == KindError {
		list = r.Errors
	}
	for _, candidate := range list {
		if candidate.Same(issue) {
			return true
		}
	}
	return false
}

// Signature is a stable digest of an issue set, independent of order.
func Signature(issues []Issue) string {
	keys := make([]string, 0, len(issues))
	for _, issue := range issues {
		keys = append(keys, issue.Key())
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}
