// Package patch applies exact-text substitutions to the working tree.
package patch

import (
	"github.com/go-playground/validator/v10"
)

var patchValidate = validator.New()

// Patch is one proposed edit. It is inert until applied and carries no
// reference to live file content.
type Patch struct {
	File        string `json:"file"             validate:"required"`
	Original    string `json:"original_code"    validate:"required"`
	Replacement string `json:"replacement_code"`
}

// Validate checks the fields required for a patch to be applicable.
func (p Patch) Validate() error {
	return patchValidate.Struct(p)
}

// Status is the per-patch application result.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusInvalid   Status = "invalid"
	StatusMissing   Status = "missing"
	StatusMismatch  Status = "mismatch"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one patch.
type Outcome struct {
	Patch  Patch  `json:"patch"`
	Path   string `json:"path,omitempty"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Diff   string `json:"diff,omitempty"`
}

// Report is the result of applying a batch.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Applied counts the patches that changed a file.
func (r Report) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusApplied {
			n++
		}
	}
	return n
}

// AppliedPatches returns the patches that changed a file, in batch order.
func (r Report) AppliedPatches() []Patch {
	var out []Patch
	for _, o := range r.Outcomes {
		if o.Status == StatusApplied {
			out = append(out, o.Patch)
		}
	}
	return out
}

// Paths returns the distinct files touched by applied patches.
func (r Report) Paths() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range r.Outcomes {
		if o.Status != StatusApplied {
			continue
		}
		if _, ok := seen[o.Path]; ok {
			continue
		}
		seen[o.Path] = struct{}{}
		out = append(out, o.Path)
	}
	return out
}

// Diff concatenates the unified diffs of applied patches.
func (r Report) Diff() string {
	var out string
	for _, o := range r.Outcomes {
		out += o.Diff
	}
	return out
}
