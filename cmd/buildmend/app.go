package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/metalagman/buildmend/internal/build"
	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/db"
	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/excerpt"
	"github.com/metalagman/buildmend/internal/git"
	"github.com/metalagman/buildmend/internal/index"
	"github.com/metalagman/buildmend/internal/llm"
	"github.com/metalagman/buildmend/internal/memo"
	"github.com/metalagman/buildmend/internal/patch"
	"github.com/metalagman/buildmend/internal/propose"
	"github.com/metalagman/buildmend/internal/repair"
)

// workspace locates the fix root and its state directory.
type workspace struct {
	Root     string
	StateDir string
}

func newWorkspace(root string) workspace {
	return workspace{Root: root, StateDir: stateDir(root)}
}

// repairModule provides the controller graph. Callers supply a
// config.Config and a workspace.
var repairModule = fx.Options(
	fx.Provide(
		afero.NewOsFs,
		provideDB,
		db.NewStore,
		provideIndex,
		provideBuilder,
		provideExtractor,
		provideModel,
		provideProposer,
		provideApplier,
		provideGuard,
		provideMemo,
		provideController,
	),
)

func provideDB(lc fx.Lifecycle, ws workspace) (*sql.DB, error) {
	conn, err := db.Open(filepath.Join(ws.StateDir, dbFileName))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(conn.Close))
	return conn, nil
}

func provideIndex(conn *sql.DB, fs afero.Fs, cfg config.Config) (*index.Index, error) {
	embedder, err := llm.NewEmbedder(cfg.Embedding, nil)
	if err != nil {
		return nil, err
	}
	return index.New(conn, fs, embedder, index.Options{
		ChunkLines: cfg.Embedding.ChunkLines,
		Extensions: cfg.Embedding.Extensions,
	}), nil
}

func provideBuilder(cfg config.Config, ws workspace) (*build.Builder, error) {
	return build.New(cfg.Build, ws.Root, diag.NewClassifier(cfg.Classifier.MaxIssues), nil)
}

func provideExtractor(fs afero.Fs, ws workspace, cfg config.Config, idx *index.Index) *excerpt.Extractor {
	return excerpt.New(fs, ws.Root, excerpt.Options{
		Window:      cfg.Context.Window,
		HeaderLines: cfg.Context.HeaderLines,
		RelatedK:    cfg.Context.RelatedK,
	}, idx)
}

func provideModel(cfg config.Config) (*llm.Client, error) {
	return llm.New(context.Background(), cfg.Model, nil)
}

func provideProposer(client *llm.Client, cfg config.Config) *propose.Service {
	return propose.New(client, propose.OptionsFromConfig(cfg.Model))
}

func provideApplier(fs afero.Fs, ws workspace) *patch.Applier {
	return patch.NewApplier(fs, ws.Root)
}

// provideGuard tolerates the build output in the dirty check: the first
// build of a session writes it before any fix exists.
func provideGuard(cfg config.Config, ws workspace) *git.Guard {
	ignore := slices.Clone(cfg.Repair.Ignore)
	if out := cfg.Build.Output; out != "" && cfg.Build.Command == "" {
		ignore = append(ignore, out)
	}
	return git.NewGuard(ws.Root, ignore, cfg.Repair.BranchPrefix)
}

// provideMemo returns a nil Memo when the cache is disabled.
func provideMemo(lc fx.Lifecycle, cfg config.Config, ws workspace) (repair.Memo, error) {
	if !cfg.Memo.Enabled {
		return nil, nil
	}
	path := cfg.Memo.Path
	if path == "" {
		path = filepath.Join(ws.StateDir, "memo")
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(ws.Root, path)
	}
	store, err := memo.Open(memo.Config{Path: path})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(store.Close))
	return store, nil
}

type controllerParams struct {
	fx.In

	Config    config.Config
	Workspace workspace
	Fs        afero.Fs
	Builder   *build.Builder
	Extractor *excerpt.Extractor
	Proposer  *propose.Service
	Applier   *patch.Applier
	Guard     *git.Guard
	Memo      repair.Memo
	Ledger    *db.Store
}

func provideController(p controllerParams) (*repair.Controller, error) {
	return repair.New(repair.Deps{
		Builder:   p.Builder,
		Extractor: p.Extractor,
		Proposer:  p.Proposer,
		Applier:   p.Applier,
		Guard:     p.Guard,
		Memo:      p.Memo,
		Ledger:    p.Ledger,
		Fs:        p.Fs,
		Root:      p.Workspace.Root,
		StateDir:  p.Workspace.StateDir,
		Baseline:  p.Config.Repair.Baseline,
	}, repair.PolicyFromConfig(p.Config.Repair))
}
