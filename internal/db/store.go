// Package db persists the session ledger: sessions, repair rounds and a
// per-session event timeline.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store provides persistence for sessions and rounds.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is one repair session row.
type Session struct {
	ID        string
	CreatedAt string
	EndedAt   string
	Root      string
	Baseline  string
	Branch    string
	Status    string
	Rounds    int
	RunDir    string
	Summary   string
}

// Round is one committed Context, Propose, Apply, Verify cycle.
type Round struct {
	SessionID string
	Index     int
	Target    string
	Signature string
	Source    string
	Proposed  int
	Applied   int
	Errors    int
	Warnings  int
	Decision  string
	Rationale string
	StartedAt time.Time
	EndedAt   time.Time
}

// Event is a timeline entry for a session.
type Event struct {
	Seq      int
	TS       string
	Type     string
	Message  string
	DataJSON string
}

// CreateSession inserts the session record and a session_started event.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	createdAt := sess.CreatedAt
	if createdAt == "" {
		createdAt = now()
	}
	return s.inTx(ctx, "create session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(session_id, created_at, root, baseline, branch, status, rounds, run_dir)
			VALUES(?, ?, ?, ?, ?, ?, 0, ?)`,
			sess.ID, createdAt, sess.Root, sess.Baseline, nullableString(sess.Branch), "running", sess.RunDir); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return s.insertEvent(ctx, tx, sess.ID, Event{Type: "session_started", Message: "session started"})
	})
}

// SetBranch records the isolation branch of a session.
func (s *Store) SetBranch(ctx context.Context, sessionID, branch string) error {
	return s.inTx(ctx, "set branch", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET branch=? WHERE session_id=?`, branch, sessionID); err != nil {
			return fmt.Errorf("update session branch: %w", err)
		}
		return s.insertEvent(ctx, tx, sessionID, Event{Type: "branch_created", Message: branch})
	})
}

// RecordRound inserts the round, its events and bumps the session round
// counter in one transaction.
func (s *Store) RecordRound(ctx context.Context, r Round, events []Event) error {
	return s.inTx(ctx, "record round", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rounds(session_id, round_index, target, signature, source, proposed, applied, errors, warnings, decision, rationale, started_at, ended_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SessionID, r.Index, r.Target, r.Signature, r.Source, r.Proposed, r.Applied, r.Errors, r.Warnings, r.Decision,
			nullableString(r.Rationale), r.StartedAt.UTC().Format(time.RFC3339), r.EndedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		for _, ev := range events {
			if err := s.insertEvent(ctx, tx, r.SessionID, ev); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET rounds=? WHERE session_id=?`, r.Index, r.SessionID); err != nil {
			return fmt.Errorf("update session rounds: %w", err)
		}
		return nil
	})
}

// FinishSession stores the terminal status and a session_finished event.
func (s *Store) FinishSession(ctx context.Context, sessionID, status, summary string) error {
	return s.inTx(ctx, "finish session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, summary=?, ended_at=? WHERE session_id=?`,
			status, nullableString(summary), now(), sessionID); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return s.insertEvent(ctx, tx, sessionID, Event{Type: "session_finished", Message: status})
	})
}

// ListSessions returns the most recent sessions first. A negative limit
// returns all sessions; zero returns the 20 most recent.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit == 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, created_at, COALESCE(ended_at, ''), root, baseline, COALESCE(branch, ''),
		status, rounds, run_dir, COALESCE(summary, '') FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.EndedAt, &sess.Root, &sess.Baseline, &sess.Branch,
			&sess.Status, &sess.Rounds, &sess.RunDir, &sess.Summary); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns a session by id; ok is false when it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, created_at, COALESCE(ended_at, ''), root, baseline, COALESCE(branch, ''),
		status, rounds, run_dir, COALESCE(summary, '') FROM sessions WHERE session_id=?`, sessionID)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.EndedAt, &sess.Root, &sess.Baseline, &sess.Branch,
		&sess.Status, &sess.Rounds, &sess.RunDir, &sess.Summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}
	return sess, true, nil
}

// Rounds returns the rounds of a session in order.
func (s *Store) Rounds(ctx context.Context, sessionID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT round_index, target, signature, source, proposed, applied, errors, warnings,
		decision, COALESCE(rationale, ''), started_at, ended_at FROM rounds WHERE session_id=? ORDER BY round_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Round
	for rows.Next() {
		r := Round{SessionID: sessionID}
		var started, ended string
		if err := rows.Scan(&r.Index, &r.Target, &r.Signature, &r.Source, &r.Proposed, &r.Applied, &r.Errors, &r.Warnings,
			&r.Decision, &r.Rationale, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.EndedAt, _ = time.Parse(time.RFC3339, ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the timeline of a session ordered by sequence.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, COALESCE(data_json, '') FROM events WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Seq, &ev.TS, &ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin %s: %w", what, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, sessionID string, ev Event) error {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id=?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(session_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		sessionID, seq+1, now(), ev.Type, ev.Message, nullableString(ev.DataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
