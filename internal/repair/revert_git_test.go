package repair

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/buildmend/internal/git"
	"github.com/metalagman/buildmend/internal/patch"
	"github.com/metalagman/buildmend/internal/propose"
)

const brokenMain = "int main(void) {\n    return 0\n}\n"

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
		_, err := git.Run(ctx, dir, args...)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte(brokenMain), 0o644))
	_, err := git.Run(ctx, dir, "add", ".")
	require.NoError(t, err)
	_, err = git.Run(ctx, dir, "commit", "--quiet", "-m", "init")
	require.NoError(t, err)
	return dir
}

func TestController_RevertRestoresBaseline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := initRepo(t)
	guard := git.NewGuard(dir, []string{".buildmend/"}, "ai-fix-")

	c := newController(t, Deps{
		Builder:  &logBuilder{logs: []string{semicolonLog, errorLog(25)}},
		Proposer: &scriptedProposer{results: []propose.Result{semicolonFix()}},
		Applier:  patch.NewApplier(afero.NewOsFs(), dir),
		Guard:    guard,
		Root:     dir,
	}, defaultPolicy)

	res, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeReverted, res.Outcome)
	require.NotEmpty(t, res.Branch)

	assert.True(t, guard.IsClean(ctx))
	assert.False(t, git.BranchExists(ctx, dir, res.Branch), "isolation branch must be deleted")
	branch, err := git.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	data, err := os.ReadFile(filepath.Join(dir, "main.c"))
	require.NoError(t, err)
	assert.Equal(t, brokenMain, string(data))
}

func TestController_AcceptKeepsBranchAndBaseline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := initRepo(t)
	guard := git.NewGuard(dir, []string{".buildmend/"}, "ai-fix-")

	c := newController(t, Deps{
		Builder:  &logBuilder{logs: []string{semicolonLog, ""}},
		Proposer: &scriptedProposer{results: []propose.Result{semicolonFix()}},
		Applier:  patch.NewApplier(afero.NewOsFs(), dir),
		Guard:    guard,
		Root:     dir,
	}, defaultPolicy)

	res, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	branch, err := git.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, res.Branch, branch)
	assert.True(t, guard.IsClean(ctx), "fix is committed on the isolation branch")

	baseline, err := git.Output(ctx, dir, "show", "main:main.c")
	require.NoError(t, err)
	assert.Equal(t, brokenMain, baseline, "baseline is never touched")
}
