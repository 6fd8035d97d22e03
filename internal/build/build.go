// Package build invokes the compiler and classifies its output.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/diag"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (output string, exitCode int, err error)
}

// ExecRunner runs commands through sh and captures stdout and stderr
// interleaved in one buffer.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, fmt.Errorf("exec: %w", err)
	}
	return out.String(), 0, nil
}

// Result is the outcome of one compiler invocation.
type Result struct {
	Succeeded bool          `json:"succeeded"`
	ExitCode  int           `json:"exit_code"`
	RawLog    string        `json:"-"`
	Issues    diag.Result   `json:"issues"`
	Duration  time.Duration `json:"duration"`
}

// Clean reports whether the log carried no error and no warning.
func (r Result) Clean() bool {
	return r.Issues.Clean()
}

// Builder runs the configured build in a fixed directory.
type Builder struct {
	command    string
	root       string
	dir        string
	runner     CommandRunner
	classifier *diag.Classifier
}

// New returns a builder for cfg. Relative build.dir values resolve against root.
func New(cfg config.BuildConfig, root string, classifier *diag.Classifier, runner CommandRunner) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if classifier == nil {
		classifier = diag.NewClassifier(diag.DefaultMaxIssues)
	}
	dir := root
	if cfg.Dir != "" {
		dir = cfg.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
	}
	return &Builder{
		command:    Command(cfg),
		root:       root,
		dir:        dir,
		runner:     runner,
		classifier: classifier,
	}, nil
}

// Command renders the shell command for cfg: the raw command when set,
// otherwise compiler, sources, output and flags.
func Command(cfg config.BuildConfig) string {
	if cfg.Command != "" {
		return cfg.Command
	}
	args := []string{cfg.Compiler}
	args = append(args, cfg.Sources...)
	if cfg.Output != "" {
		args = append(args, "-o", cfg.Output)
	}
	args = append(args, cfg.Flags...)
	return shellquote.Join(args...)
}

// CommandLine returns the command this builder runs.
func (b *Builder) CommandLine() string {
	return b.command
}

// Run executes the build once. Only a failure to start the process is an
// error; a failing compile is a Result with Succeeded false.
func (b *Builder) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	output, exitCode, err := b.runner.Run(ctx, b.dir, b.command)
	if err != nil {
		return Result{}, fmt.Errorf("run build %q: %w", b.command, err)
	}

	issues := b.classifier.Classify(output)
	b.rebase(issues.Errors)
	b.rebase(issues.Warnings)
	res := Result{
		// A zero exit with classified errors still counts as failed so
		// that a successful result never carries errors.
		Succeeded: exitCode == 0 && len(issues.Errors) == 0,
		ExitCode:  exitCode,
		RawLog:    output,
		Issues:    issues,
		Duration:  time.Since(start),
	}
	log.Debug().
		Str("cmd", b.command).
		Int("exit_code", exitCode).
		Int("errors", len(issues.Errors)).
		Int("warnings", len(issues.Warnings)).
		Dur("duration", res.Duration).
		Msg("build finished")
	return res, nil
}

// rebase rewrites diagnostic paths, which the compiler reports relative to
// the build directory, relative to the fix root. Paths outside the root are
// left absolute.
func (b *Builder) rebase(issues []diag.Issue) {
	if b.root == "" || b.dir == b.root {
		return
	}
	for i := range issues {
		if issues[i].File != "" {
			issues[i].File = rootRelative(b.root, b.dir, issues[i].File)
		}
	}
}

func rootRelative(root, dir, file string) string {
	abs := file
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(dir, file)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Clean(abs)
	}
	return filepath.ToSlash(rel)
}
