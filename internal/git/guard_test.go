package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository on branch main with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"symbolic-ref", "HEAD", "refs/heads/main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"config", "commit.gpgsign", "false"},
	} {
		_, err := Run(ctx, dir, args...)
		require.NoError(t, err)
	}
	writeFile(t, dir, "main.c", "int main(void) { return 0 }\n")
	_, err := Run(ctx, dir, "add", ".")
	require.NoError(t, err)
	_, err = Run(ctx, dir, "commit", "--quiet", "-m", "init")
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGuard_IsClean(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	ctx := context.Background()
	g := NewGuard(dir, []string{".buildmend/", "__pycache__", ".pyc"}, "")

	assert.True(t, g.IsClean(ctx))

	writeFile(t, dir, ".buildmend/runs/x/build-1.log", "log")
	writeFile(t, dir, "tools/__pycache__/m.cpython-311.pyc", "bytes")
	assert.True(t, g.IsClean(ctx), "ignored artifacts must not dirty the tree")

	writeFile(t, dir, "main.c", "int main(void) { return 0; }\n")
	assert.False(t, g.IsClean(ctx))
	dirty, err := g.Dirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.c"}, dirty)
}

func TestGuard_IsCleanOutsideRepository(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := NewGuard(t.TempDir(), nil, "")
	assert.False(t, g.IsClean(context.Background()))
}

func TestGuard_BranchCommitRevert(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	ctx := context.Background()
	g := NewGuard(dir, nil, "ai-fix-")

	baseline, err := g.Baseline(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", baseline)

	branch, err := g.CreateIsolationBranch(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(branch, "ai-fix-"))
	assert.Len(t, branch, len("ai-fix-")+8)
	current, err := CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, branch, current)

	writeFile(t, dir, "main.c", "int main(void) { return 0; }\n")
	require.NoError(t, g.Commit(ctx, []string{filepath.Join(dir, "main.c")}, "fix: missing semicolon"))
	assert.True(t, g.IsClean(ctx))

	// An uncommitted follow-up edit must be discarded as well.
	writeFile(t, dir, "main.c", "garbage\n")

	require.NoError(t, g.Revert(ctx, branch, baseline))

	current, err = CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "main", current)
	assert.False(t, BranchExists(ctx, dir, branch))
	assert.True(t, g.IsClean(ctx))

	data, err := os.ReadFile(filepath.Join(dir, "main.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main(void) { return 0 }\n", string(data))
}

func TestGuard_RevertReportsFailures(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	ctx := context.Background()
	g := NewGuard(dir, nil, "")

	err := g.Revert(ctx, "ai-fix-missing", "no-such-baseline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-baseline")
}

func TestGuard_CommitRequiresPaths(t *testing.T) {
	t.Parallel()
	g := NewGuard(t.TempDir(), nil, "")
	require.Error(t, g.Commit(context.Background(), nil, "empty"))
}
