package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrDirtyWorkspace reports uncommitted changes outside the ignore list.
var ErrDirtyWorkspace = errors.New("workspace has uncommitted changes")

const branchAttempts = 3

// Guard isolates repair work on a disposable branch.
type Guard struct {
	root   string
	ignore []string
	prefix string
	logger zerolog.Logger
}

// NewGuard returns a guard for the repository at root. Status entries whose
// path contains any ignore pattern do not make the tree dirty.
func NewGuard(root string, ignore []string, branchPrefix string) *Guard {
	if branchPrefix == "" {
		branchPrefix = "ai-fix-"
	}
	return &Guard{
		root:   root,
		ignore: ignore,
		prefix: branchPrefix,
		logger: log.With().Str("component", "guard").Logger(),
	}
}

// Dirty lists status entries that are not covered by the ignore list.
func (g *Guard) Dirty(ctx context.Context) ([]string, error) {
	if !Available(ctx, g.root) {
		return nil, fmt.Errorf("not a git repository: %s", g.root)
	}
	out, err := Output(ctx, g.root, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	var dirty []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if g.ignored(path) {
			continue
		}
		dirty = append(dirty, path)
	}
	return dirty, nil
}

// IsClean reports whether the tree has no changes beyond the ignore list.
// A failing status call counts as not clean.
func (g *Guard) IsClean(ctx context.Context) bool {
	dirty, err := g.Dirty(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("workspace status unavailable")
		return false
	}
	if len(dirty) > 0 {
		g.logger.Debug().Strs("paths", dirty).Msg("workspace dirty")
		return false
	}
	return true
}

func (g *Guard) ignored(path string) bool {
	for _, pattern := range g.ignore {
		if pattern != "" && strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// Baseline returns the branch the session starts from.
func (g *Guard) Baseline(ctx context.Context) (string, error) {
	return CurrentBranch(ctx, g.root)
}

// CreateIsolationBranch creates and checks out a uniquely named branch.
func (g *Guard) CreateIsolationBranch(ctx context.Context) (string, error) {
	for range branchAttempts {
		name := g.prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if BranchExists(ctx, g.root, name) {
			continue
		}
		if _, err := Run(ctx, g.root, "checkout", "-b", name); err != nil {
			return "", fmt.Errorf("create isolation branch: %w", err)
		}
		g.logger.Info().Str("branch", name).Msg("switched to isolation branch")
		return name, nil
	}
	return "", fmt.Errorf("create isolation branch: no free name after %d attempts", branchAttempts)
}

// Commit stages paths and records a commit on the current branch.
func (g *Guard) Commit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return fmt.Errorf("commit: no paths")
	}
	args := []string{"add", "--"}
	for _, p := range paths {
		if rel, err := filepath.Rel(g.root, p); err == nil && filepath.IsAbs(p) {
			p = rel
		}
		args = append(args, filepath.ToSlash(p))
	}
	if _, err := Run(ctx, g.root, args...); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	if _, err := Run(ctx, g.root, "commit", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}
	g.logger.Info().Int("files", len(paths)).Str("message", message).Msg("committed repair attempt")
	return nil
}

// Revert discards everything done on branch: it drops uncommitted edits,
// returns to baseline and deletes branch. Every step is attempted even when
// an earlier one fails; the joined error lists what did not happen.
func (g *Guard) Revert(ctx context.Context, branch, baseline string) error {
	var errs []error
	if _, err := Run(ctx, g.root, "reset", "--hard", "--quiet"); err != nil {
		errs = append(errs, err)
	}
	if _, err := Run(ctx, g.root, "checkout", "--force", baseline); err != nil {
		errs = append(errs, err)
	}
	if branch != "" && branch != baseline {
		if _, err := Run(ctx, g.root, "branch", "-D", branch); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("revert %s to %s: %w", branch, baseline, err)
	}
	g.logger.Info().Str("branch", branch).Str("baseline", baseline).Msg("reverted to baseline")
	return nil
}
