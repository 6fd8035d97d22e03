package repair

import (
	"context"
	"errors"
	"sync"

	"github.com/metalagman/buildmend/internal/build"
	"github.com/metalagman/buildmend/internal/db"
	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/llm"
	"github.com/metalagman/buildmend/internal/memo"
	"github.com/metalagman/buildmend/internal/patch"
	"github.com/metalagman/buildmend/internal/propose"
)

// logBuilder classifies one scripted log per call and repeats the last one.
type logBuilder struct {
	logs  []string
	calls int
	fn    func() string
}

func (b *logBuilder) Run(context.Context) (build.Result, error) {
	var raw string
	switch {
	case b.fn != nil:
		raw = b.fn()
	case len(b.logs) == 0:
		raw = ""
	case b.calls < len(b.logs):
		raw = b.logs[b.calls]
	default:
		raw = b.logs[len(b.logs)-1]
	}
	b.calls++
	issues := diag.Classify(raw)
	return build.Result{Succeeded: len(issues.Errors) == 0, RawLog: raw, Issues: issues}, nil
}

type failingBuilder struct{}

func (failingBuilder) Run(context.Context) (build.Result, error) {
	return build.Result{}, errors.New("sh: not found")
}

type staticExtractor struct{}

func (staticExtractor) Extract(_ context.Context, issue diag.Issue) string {
	return "context for " + issue.File
}

// scriptedProposer returns one result per call and an empty result after.
type scriptedProposer struct {
	results []propose.Result
	calls   int
}

func (p *scriptedProposer) Propose(context.Context, diag.Issue, string) propose.Result {
	p.calls++
	if p.calls > len(p.results) {
		return propose.Result{Failure: propose.FailureDecode, Rationale: "decode failed"}
	}
	return p.results[p.calls-1]
}

// recordingApplier records batches and marks every patch applied.
type recordingApplier struct {
	batches [][]patch.Patch
}

func (a *recordingApplier) Apply(patches []patch.Patch) patch.Report {
	a.batches = append(a.batches, patches)
	rep := patch.Report{}
	for _, p := range patches {
		rep.Outcomes = append(rep.Outcomes, patch.Outcome{Patch: p, Path: "/repo/" + p.File, Status: patch.StatusApplied})
	}
	return rep
}

type fakeGuard struct {
	dirty       bool
	branchErr   error
	revertErr   error
	branches    []string
	commits     [][]string
	reverts     []string
	cleanChecks int
}

func (g *fakeGuard) IsClean(context.Context) bool {
	g.cleanChecks++
	return !g.dirty
}

func (g *fakeGuard) Dirty(context.Context) ([]string, error) {
	if g.dirty {
		return []string{"main.c"}, nil
	}
	return nil, nil
}

func (g *fakeGuard) Baseline(context.Context) (string, error) {
	return "main", nil
}

func (g *fakeGuard) CreateIsolationBranch(context.Context) (string, error) {
	if g.branchErr != nil {
		return "", g.branchErr
	}
	name := "ai-fix-test"
	g.branches = append(g.branches, name)
	return name, nil
}

func (g *fakeGuard) Commit(_ context.Context, paths []string, _ string) error {
	g.commits = append(g.commits, paths)
	return nil
}

func (g *fakeGuard) Revert(_ context.Context, branch, _ string) error {
	g.reverts = append(g.reverts, branch)
	return g.revertErr
}

type mapMemo struct {
	entries map[string]memo.Entry
	puts    int
	deletes int
}

func (m *mapMemo) Lookup(sig string) (memo.Entry, bool, error) {
	e, ok := m.entries[sig]
	if ok {
		e.Hits++
		m.entries[sig] = e
	}
	return e, ok, nil
}

func (m *mapMemo) Put(e memo.Entry) error {
	if m.entries == nil {
		m.entries = map[string]memo.Entry{}
	}
	m.puts++
	m.entries[e.Signature] = e
	return nil
}

func (m *mapMemo) Delete(sig string) error {
	m.deletes++
	delete(m.entries, sig)
	return nil
}

// mismatchApplier reports the stale patches as mismatched and applies the
// rest.
type mismatchApplier struct {
	stale   []patch.Patch
	batches [][]patch.Patch
}

func (a *mismatchApplier) Apply(patches []patch.Patch) patch.Report {
	a.batches = append(a.batches, patches)
	rep := patch.Report{}
	for _, p := range patches {
		status := patch.StatusApplied
		for _, s := range a.stale {
			if p == s {
				status = patch.StatusMismatch
			}
		}
		rep.Outcomes = append(rep.Outcomes, patch.Outcome{Patch: p, Path: "/repo/" + p.File, Status: status})
	}
	return rep
}

type fakeLedger struct {
	mu       sync.Mutex
	sessions []db.Session
	rounds   []db.Round
	finished map[string]string
}

func (l *fakeLedger) ReconcileInterrupted(context.Context) (int, error) { return 0, nil }

func (l *fakeLedger) CreateSession(_ context.Context, s db.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
	return nil
}

func (l *fakeLedger) SetBranch(context.Context, string, string) error { return nil }

func (l *fakeLedger) RecordRound(_ context.Context, r db.Round, _ []db.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds = append(l.rounds, r)
	return nil
}

func (l *fakeLedger) FinishSession(_ context.Context, id, status, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = map[string]string{}
	}
	l.finished[id] = status
	return nil
}

// scriptedModel answers completer calls in order.
type scriptedModel struct {
	replies []string
	calls   int
}

func (m *scriptedModel) Complete(context.Context, llm.Request) (string, error) {
	m.calls++
	if m.calls > len(m.replies) {
		return "", llm.ErrEmptyOutput
	}
	return m.replies[m.calls-1], nil
}
