// Package repair drives the build repair loop: build, pick one issue, ask
// for a fix, apply it on an isolation branch and verify, until the build is
// clean, the retry ceiling is hit or a regression forces a revert.
package repair

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/metalagman/buildmend/internal/build"
	"github.com/metalagman/buildmend/internal/db"
	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/git"
	"github.com/metalagman/buildmend/internal/logging"
	"github.com/metalagman/buildmend/internal/memo"
	"github.com/metalagman/buildmend/internal/patch"
	"github.com/metalagman/buildmend/internal/propose"
	"github.com/metalagman/buildmend/internal/report"
)

var (
	// ErrWorkspaceDirty aborts a session before any branch is created. It
	// wraps git.ErrDirtyWorkspace.
	ErrWorkspaceDirty = fmt.Errorf("repair aborted: %w", git.ErrDirtyWorkspace)
	// ErrSessionLocked reports another session running on the same tree.
	ErrSessionLocked = errors.New("another repair session is running")
)

const (
	sourceModel = "model"
	sourceMemo  = "memo"
)

// Builder runs the configured build.
type Builder interface {
	Run(ctx context.Context) (build.Result, error)
}

// Extractor renders source context for an issue.
type Extractor interface {
	Extract(ctx context.Context, issue diag.Issue) string
}

// Proposer asks the model for fixes.
type Proposer interface {
	Propose(ctx context.Context, issue diag.Issue, sourceContext string) propose.Result
}

// Applier applies patches to the working tree.
type Applier interface {
	Apply(patches []patch.Patch) patch.Report
}

// Guard isolates session changes on a disposable branch.
type Guard interface {
	IsClean(ctx context.Context) bool
	Dirty(ctx context.Context) ([]string, error)
	Baseline(ctx context.Context) (string, error)
	CreateIsolationBranch(ctx context.Context) (string, error)
	Commit(ctx context.Context, paths []string, message string) error
	Revert(ctx context.Context, branch, baseline string) error
}

// Memo caches fixes by issue signature.
type Memo interface {
	Lookup(signature string) (memo.Entry, bool, error)
	Put(entry memo.Entry) error
	Delete(signature string) error
}

// Ledger records sessions and rounds.
type Ledger interface {
	ReconcileInterrupted(ctx context.Context) (int, error)
	CreateSession(ctx context.Context, sess db.Session) error
	SetBranch(ctx context.Context, sessionID, branch string) error
	RecordRound(ctx context.Context, r db.Round, events []db.Event) error
	FinishSession(ctx context.Context, sessionID, status, summary string) error
}

// Deps are the collaborators of a controller. Memo and Ledger are optional.
// Reports and the session lock are written under StateDir when it is set.
type Deps struct {
	Builder   Builder
	Extractor Extractor
	Proposer  Proposer
	Applier   Applier
	Guard     Guard
	Memo      Memo
	Ledger    Ledger
	Fs        afero.Fs
	Root      string
	StateDir  string
	// Baseline overrides the branch detected at session start.
	Baseline string
}

// Controller runs repair sessions.
type Controller struct {
	deps   Deps
	policy Policy
	logger zerolog.Logger
}

// Result describes a finished session.
type Result struct {
	SessionID string
	Outcome   Outcome
	Branch    string
	Baseline  string
	Rounds    int
	Builds    int
	LastBuild build.Result
	RevertErr error
	Report    report.Report
}

// New returns a controller.
func New(deps Deps, policy Policy) (*Controller, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("repair: builder is required")
	case deps.Extractor == nil:
		return nil, errors.New("repair: extractor is required")
	case deps.Proposer == nil:
		return nil, errors.New("repair: proposer is required")
	case deps.Applier == nil:
		return nil, errors.New("repair: applier is required")
	case deps.Guard == nil:
		return nil, errors.New("repair: guard is required")
	}
	if policy.MaxRetries <= 0 || policy.RegressionThreshold <= 0 {
		return nil, fmt.Errorf("repair: invalid policy %+v", policy)
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Controller{deps: deps, policy: policy, logger: logging.Component("repair")}, nil
}

// session is the mutable state of one Run.
type session struct {
	id       string
	baseline string
	branch   string
	lock     *sessionLock
	writer   *report.Writer

	retries int
	builds  int
	build   build.Result

	target    diag.Issue
	first     *diag.Issue
	excerpt   string
	proposal  propose.Result
	source    string
	signature string
	applied   patch.Report
	started   time.Time
	events    []db.Event

	proposed     int
	appliedTotal int
	rationale    string
	fixes        []report.Fix

	err       error
	revertErr error
}

// Run executes one session to a terminal state. The returned error is set
// when the session aborted or when a build could not run. A failed revert is
// not returned; it is logged at fatal level and kept in Result.RevertErr.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	s := &session{id: newSessionID()}
	logger := c.logger.With().Str("session", s.id).Logger()

	state := StateStart
	for !state.Terminal() {
		var next State
		switch state {
		case StateStart:
			next = c.start(ctx, s)
		case StateSetup:
			next = c.setup(ctx, s)
		case StateBuild:
			next = c.initialBuild(ctx, s)
		case StateContext:
			next = c.gatherContext(ctx, s)
		case StatePropose:
			next = c.propose(ctx, s)
		case StateApply:
			next = c.apply(ctx, s)
		case StateVerify:
			next = c.verify(ctx, s)
		default:
			next = StateAborted
		}
		logger.Debug().Stringer("from", state).Stringer("to", next).Msg("transition")
		state = next
	}

	res := c.finish(ctx, s, state)
	logger.Info().
		Str("outcome", string(res.Outcome)).
		Int("rounds", res.Rounds).
		Int("errors", len(res.LastBuild.Issues.Errors)).
		Int("warnings", len(res.LastBuild.Issues.Warnings)).
		Msg("session finished")

	return res, s.err
}

func (c *Controller) start(ctx context.Context, s *session) State {
	if c.deps.StateDir == "" {
		return StateSetup
	}
	lock, ok, err := tryLock(c.deps.StateDir)
	if err != nil {
		s.err = err
		return StateAborted
	}
	if !ok {
		s.err = ErrSessionLocked
		return StateAborted
	}
	s.lock = lock
	if c.deps.Ledger != nil {
		if n, err := c.deps.Ledger.ReconcileInterrupted(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("reconcile ledger")
		} else if n > 0 {
			c.logger.Info().Int("sessions", n).Msg("marked interrupted sessions")
		}
	}
	return StateSetup
}

func (c *Controller) setup(ctx context.Context, s *session) State {
	if !c.deps.Guard.IsClean(ctx) {
		dirty, _ := c.deps.Guard.Dirty(ctx)
		c.logger.Error().Strs("paths", dirty).Msg("workspace has uncommitted changes, refusing to start")
		s.err = ErrWorkspaceDirty
		return StateAborted
	}

	baseline := c.deps.Baseline
	if baseline == "" {
		var err error
		baseline, err = c.deps.Guard.Baseline(ctx)
		if err != nil {
			s.err = fmt.Errorf("detect baseline: %w", err)
			return StateAborted
		}
	}
	s.baseline = baseline

	branch, err := c.deps.Guard.CreateIsolationBranch(ctx)
	if err != nil {
		s.err = err
		return StateAborted
	}
	s.branch = branch

	if c.deps.StateDir != "" {
		s.writer = report.NewWriter(c.deps.Fs, filepath.Join(c.deps.StateDir, "runs", s.id))
	}
	c.ledger("create session", func(l Ledger) error {
		runDir := ""
		if s.writer != nil {
			runDir = s.writer.Dir()
		}
		if err := l.CreateSession(ctx, db.Session{ID: s.id, Root: c.deps.Root, Baseline: baseline, RunDir: runDir}); err != nil {
			return err
		}
		return l.SetBranch(ctx, s.id, branch)
	})
	return StateBuild
}

func (c *Controller) initialBuild(ctx context.Context, s *session) State {
	if !c.runBuild(ctx, s) {
		c.revert(ctx, s)
		return StateAborted
	}
	c.logger.Info().
		Int("errors", len(s.build.Issues.Errors)).
		Int("warnings", len(s.build.Issues.Warnings)).
		Msg("initial build")
	next := route(s.build.Issues)
	if next == StateDone {
		// Nothing to fix; the empty isolation branch is not kept.
		c.revert(ctx, s)
	}
	return next
}

func (c *Controller) gatherContext(ctx context.Context, s *session) State {
	s.retries++
	s.started = time.Now()
	s.events = nil
	s.proposal = propose.Result{}
	s.applied = patch.Report{}

	target, _ := s.build.Issues.Target()
	s.target = target
	if s.first == nil {
		first := target
		s.first = &first
	}
	s.signature = diag.Signature([]diag.Issue{target})
	s.excerpt = c.deps.Extractor.Extract(ctx, target)

	c.logger.Info().
		Int("retry", s.retries).
		Str("issue", target.Raw).
		Str("file", target.File).
		Int("line", target.Line).
		Msg("targeting issue")
	return StatePropose
}

func (c *Controller) propose(ctx context.Context, s *session) State {
	if c.deps.Memo != nil {
		entry, found, err := c.deps.Memo.Lookup(s.signature)
		if err != nil {
			c.logger.Warn().Err(err).Msg("memo lookup failed")
		}
		if found {
			s.source = sourceMemo
			s.proposal = propose.Result{
				Fixes:     entry.Patches,
				Rationale: fmt.Sprintf("reused %d fix(es) remembered for this issue", len(entry.Patches)),
			}
			s.events = append(s.events, db.Event{Type: "memo_hit", Message: s.signature})
			c.logger.Info().Int("fixes", len(entry.Patches)).Int("hits", entry.Hits).Msg("reusing remembered fix")
			return StateApply
		}
	}

	c.askModel(ctx, s)
	return StateApply
}

func (c *Controller) askModel(ctx context.Context, s *session) {
	s.source = sourceModel
	s.proposal = c.deps.Proposer.Propose(ctx, s.target, s.excerpt)
	if s.proposal.Failure != propose.FailureNone {
		s.events = append(s.events, db.Event{Type: "proposal_failed", Message: string(s.proposal.Failure)})
	}
	if s.proposal.Rationale != "" && s.proposal.Failure == propose.FailureNone {
		s.rationale = s.proposal.Rationale
	}
}

// evict drops the remembered fix for the current target so the next
// proposal comes from the model.
func (c *Controller) evict(s *session, reason string) {
	if err := c.deps.Memo.Delete(s.signature); err != nil {
		c.logger.Warn().Err(err).Msg("memo evict failed")
	}
	s.events = append(s.events, db.Event{Type: "memo_evicted", Message: reason})
	c.logger.Info().Str("reason", reason).Msg("dropped remembered fix")
}

func (c *Controller) apply(ctx context.Context, s *session) State {
	s.applied = c.deps.Applier.Apply(s.proposal.Fixes)
	s.proposed += len(s.proposal.Fixes)
	s.appliedTotal += s.applied.Applied()
	s.fixes = append(s.fixes, report.FixesFrom(s.retries, s.source, s.applied)...)
	for _, o := range s.applied.Outcomes {
		s.events = append(s.events, db.Event{Type: "patch_" + string(o.Status), Message: o.Patch.File})
	}

	c.logger.Info().
		Int("retry", s.retries).
		Int("proposed", len(s.proposal.Fixes)).
		Int("applied", s.applied.Applied()).
		Msg("patches applied")

	if s.source == sourceMemo && s.applied.Applied() == 0 {
		// The tree moved on since the fix was remembered.
		c.evict(s, "no remembered patch applies")
		c.askModel(ctx, s)
		return c.apply(ctx, s)
	}

	if s.applied.Applied() > 0 {
		msg := fmt.Sprintf("buildmend: round %d: %s", s.retries, clip(s.target.String(), 72))
		if err := c.deps.Guard.Commit(ctx, s.applied.Paths(), msg); err != nil {
			// Verify still judges the tree; revert discards uncommitted edits.
			c.logger.Warn().Err(err).Msg("commit failed")
		} else {
			s.events = append(s.events, db.Event{Type: "committed", Message: msg})
		}
	}
	return StateVerify
}

func (c *Controller) verify(ctx context.Context, s *session) State {
	if !c.runBuild(ctx, s) {
		c.recordRound(ctx, s, "error")
		c.revert(ctx, s)
		return StateReverted
	}

	issues := s.build.Issues
	if s.source == sourceMemo && issues.Contains(s.target) {
		c.evict(s, "remembered fix did not clear the issue")
	}
	if s.source == sourceModel && c.deps.Memo != nil && s.applied.Applied() > 0 && !issues.Contains(s.target) {
		if err := c.deps.Memo.Put(memo.Entry{Signature: s.signature, Issue: s.target.Raw, Patches: s.applied.AppliedPatches()}); err != nil {
			c.logger.Warn().Err(err).Msg("memo store failed")
		}
	}

	decision := decide(issues, s.retries, c.policy)
	c.logger.Info().
		Int("retry", s.retries).
		Int("errors", len(issues.Errors)).
		Int("warnings", len(issues.Warnings)).
		Stringer("decision", decision).
		Msg("verified")
	c.recordRound(ctx, s, decision.String())

	switch decision {
	case DecisionAccept:
		return StateAccepted
	case DecisionStop:
		c.logger.Warn().Int("max_retries", c.policy.MaxRetries).Msg("retry ceiling reached, keeping isolation branch")
		return StateStopped
	case DecisionLoop:
		return StateContext
	default:
		c.logger.Warn().
			Int("errors", len(issues.Errors)).
			Int("threshold", c.policy.RegressionThreshold).
			Msg("build regressed, reverting")
		c.revert(ctx, s)
		return StateReverted
	}
}

// runBuild runs one build and stores its log. It reports false when the
// build could not be run at all.
func (c *Controller) runBuild(ctx context.Context, s *session) bool {
	res, err := c.deps.Builder.Run(ctx)
	s.builds++
	if err != nil {
		c.logger.Error().Err(err).Msg("build did not run")
		s.err = err
		return false
	}
	s.build = res
	if s.writer != nil {
		if _, err := s.writer.BuildLog(s.builds, res.RawLog); err != nil {
			c.logger.Warn().Err(err).Msg("store build log")
		}
	}
	return true
}

// revert restores the baseline. A failure is logged at fatal level and
// kept on the session; it is never retried. It runs even after ctx is
// cancelled.
func (c *Controller) revert(ctx context.Context, s *session) {
	if s.branch == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.deps.Guard.Revert(ctx, s.branch, s.baseline); err != nil {
		s.revertErr = err
		c.logger.WithLevel(zerolog.FatalLevel).
			Err(err).
			Str("branch", s.branch).
			Str("baseline", s.baseline).
			Msg("revert failed, working tree needs manual recovery")
	}
}

func (c *Controller) recordRound(ctx context.Context, s *session, decision string) {
	c.ledger("record round", func(l Ledger) error {
		return l.RecordRound(ctx, db.Round{
			SessionID: s.id,
			Index:     s.retries,
			Target:    s.target.Raw,
			Signature: s.signature,
			Source:    s.source,
			Proposed:  len(s.proposal.Fixes),
			Applied:   s.applied.Applied(),
			Errors:    len(s.build.Issues.Errors),
			Warnings:  len(s.build.Issues.Warnings),
			Decision:  decision,
			Rationale: s.proposal.Rationale,
			StartedAt: s.started,
			EndedAt:   time.Now(),
		}, s.events)
	})
	s.events = nil
}

func (c *Controller) finish(ctx context.Context, s *session, state State) Result {
	ctx = context.WithoutCancel(ctx)
	res := Result{
		SessionID: s.id,
		Outcome:   state.outcome(),
		Branch:    s.branch,
		Baseline:  s.baseline,
		Rounds:    s.retries,
		Builds:    s.builds,
		LastBuild: s.build,
		RevertErr: s.revertErr,
	}

	rep := report.Report{
		SessionID:  s.id,
		RootCause:  s.rationale,
		Fixes:      s.fixes,
		Confidence: report.Confidence(s.proposed, s.appliedTotal),
		Outcome:    string(res.Outcome),
		Rounds:     s.retries,
		Branch:     s.branch,
		Baseline:   s.baseline,
		Errors:     len(s.build.Issues.Errors),
		Warnings:   len(s.build.Issues.Warnings),
	}
	if s.first != nil {
		rep.Target = s.first.Raw
		rep.ErrorCategory = s.first.Category
		rep.Blocking = s.first.Kind == diag.KindError
	}
	res.Report = rep

	if s.writer != nil {
		if err := s.writer.Write(rep); err != nil {
			c.logger.Warn().Err(err).Msg("write report")
		}
	}
	if s.branch != "" {
		summary := fmt.Sprintf("%d rounds, %d errors, %d warnings", s.retries, rep.Errors, rep.Warnings)
		c.ledger("finish session", func(l Ledger) error {
			return l.FinishSession(ctx, s.id, string(res.Outcome), summary)
		})
	}
	if err := s.lock.release(); err != nil {
		c.logger.Warn().Err(err).Msg("release session lock")
	}
	return res
}

// ledger runs fn against the ledger when one is configured. Ledger
// failures never affect the session.
func (c *Controller) ledger(what string, fn func(Ledger) error) {
	if c.deps.Ledger == nil {
		return
	}
	if err := fn(c.deps.Ledger); err != nil {
		c.logger.Warn().Err(err).Msg(what)
	}
}

func newSessionID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
