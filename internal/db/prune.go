package db

import (
	"context"
	"fmt"
	"os"
	"time"
)

// RetentionPolicy controls session cleanup.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
}

// ReconcileInterrupted marks sessions still recorded as running as
// interrupted. Call it only while holding the session lock, so that no live
// session can be affected.
func (s *Store) ReconcileInterrupted(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE status='running'`)
	if err != nil {
		return 0, fmt.Errorf("list running sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, id := range ids {
		if err := s.FinishSession(ctx, id, "interrupted", "session ended without recording an outcome"); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// PruneSessions deletes old session records and their run directories.
// Running sessions are always kept.
func (s *Store) PruneSessions(ctx context.Context, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	sessions, err := s.ListSessions(ctx, -1)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(sessions)}
	for idx, sess := range sessions {
		keep := sess.Status == "running"
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			created, err := time.Parse(time.RFC3339, sess.CreatedAt)
			if err != nil || created.After(cutoff) {
				keep = true
			}
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		if sess.RunDir != "" {
			if err := os.RemoveAll(sess.RunDir); err != nil && !os.IsNotExist(err) {
				res.Skipped++
				continue
			}
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=?`, sess.ID); err != nil {
			return res, fmt.Errorf("delete session %s: %w", sess.ID, err)
		}
		res.Deleted++
	}
	return res, nil
}
