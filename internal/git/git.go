// Package git wraps the git CLI for workspace isolation.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Available checks if the given directory is inside a git work tree.
func Available(ctx context.Context, repoRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	return cmd.Run() == nil
}

// Run executes git with args in dir and returns combined output. A failed
// call is reported as an error carrying git's own message.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Strs("args", args).Msg("running git command")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Strs("args", args).Msg("git command failed")
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Output is like Run but only captures stdout, so warnings on stderr do not
// pollute machine-readable output.
func Output(ctx context.Context, dir string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Strs("args", args).Msg("running git command (stdout)")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		msg := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return string(out), nil
}

// CurrentBranch returns the checked out branch name.
func CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	if !Available(ctx, repoRoot) {
		return "", fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := Output(ctx, repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve base branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("resolve base branch: empty branch name")
	}
	if branch == "HEAD" {
		return "", fmt.Errorf("resolve base branch: detached HEAD")
	}
	return branch, nil
}

// BranchExists reports whether a local branch with the given name exists.
func BranchExists(ctx context.Context, repoRoot, name string) bool {
	_, err := Output(ctx, repoRoot, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}
