package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/repair"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Build.Sources = []string{"main.c"}
	return cfg
}

func TestRepairModule_Validates(t *testing.T) {
	t.Parallel()

	var ctrl *repair.Controller
	err := fx.ValidateApp(
		fx.Supply(testConfig(), newWorkspace(t.TempDir())),
		repairModule,
		fx.Populate(&ctrl),
	)
	require.NoError(t, err)
}

func TestRepairModule_Assembles(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t.TempDir())
	var ctrl *repair.Controller
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(testConfig(), ws),
		repairModule,
		fx.Populate(&ctrl),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, ctrl)
	assert.FileExists(t, filepath.Join(ws.StateDir, dbFileName))
	assert.DirExists(t, filepath.Join(ws.StateDir, "memo"))
}

func TestRepairModule_RejectsIncompleteBuild(t *testing.T) {
	t.Parallel()

	var ctrl *repair.Controller
	app := fx.New(
		fx.NopLogger,
		fx.Supply(config.Default(), newWorkspace(t.TempDir())),
		repairModule,
		fx.Populate(&ctrl),
	)
	require.Error(t, app.Err())
}

func TestProvideGuard_IgnoresBuildOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Build.Output = "bin/app"
	before := len(cfg.Repair.Ignore)

	guard := provideGuard(cfg, newWorkspace("/repo"))
	require.NotNil(t, guard)
	assert.Len(t, cfg.Repair.Ignore, before, "config ignore list must not be mutated")
}

func TestProvideMemo_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Memo.Enabled = false
	m, err := provideMemo(fxtest.NewLifecycle(t), cfg, newWorkspace(t.TempDir()))
	require.NoError(t, err)
	assert.Nil(t, m)
}
