package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

const sessionColumns = `id, status, target_bin_id, target_location_id, summary,
	created_at, updated_at, committed_at, cancelled_at`

// InsertSession inserts a session.
func InsertSession(ctx context.Context, q db.Querier, s *model.Session) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (id, status, target_bin_id, target_location_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Status, s.TargetBinID, s.TargetLocationID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func GetSession(ctx context.Context, q db.Querier, id string) (*model.Session, error) {
	sessions, err := querySessions(ctx, q, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// ListSessionsByStatus returns sessions in a status, oldest first.
func ListSessionsByStatus(ctx context.Context, q db.Querier, status model.SessionStatus) ([]model.Session, error) {
	return querySessions(ctx, q,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at`, status)
}

// SessionHistoryFilter narrows ListSessionHistory.
type SessionHistoryFilter struct {
	BinID  string
	Status model.SessionStatus
	Limit  int
}

// ListSessionHistory returns finished sessions, newest first. A bin filter
// matches the session's target bin.
func ListSessionHistory(ctx context.Context, q db.Querier, f SessionHistoryFilter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status != 'pending'`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.BinID != "" {
		query += ` AND target_bin_id = ?`
		args = append(args, f.BinID)
	}
	query += ` ORDER BY COALESCE(committed_at, cancelled_at) DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return querySessions(ctx, q, query, args...)
}

// PendingSessionsTargetingBin returns pending sessions other than exclude that
// target the bin.
func PendingSessionsTargetingBin(ctx context.Context, q db.Querier, binID, exclude string) ([]model.Session, error) {
	return querySessions(ctx, q,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = 'pending' AND target_bin_id = ? AND id != ?
		 ORDER BY created_at`, binID, exclude)
}

func querySessions(ctx context.Context, q db.Querier, query string, args ...any) ([]model.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var summary sql.NullString
		if err := rows.Scan(&s.ID, &s.Status, &s.TargetBinID, &s.TargetLocationID, &summary,
			&s.CreatedAt, &s.UpdatedAt, &s.CommittedAt, &s.CancelledAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if summary.Valid {
			decoded, err := model.DecodeSummary(summary.String)
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", s.ID, err)
			}
			s.Summary = decoded
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession bumps a pending session's updated_at.
func TouchSession(ctx context.Context, q db.Querier, id string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// UpdateSessionTarget replaces a pending session's target.
func UpdateSessionTarget(ctx context.Context, q db.Querier, id string, binID, locationID *string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sessions SET target_bin_id = ?, target_location_id = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		binID, locationID, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating session target: %w", err)
	}
	return nil
}

// FinishSession moves a pending session to a terminal status with its summary.
// It reports false when the session was no longer pending, which is how a
// lost commit/cancel race shows up.
func FinishSession(ctx context.Context, q db.Querier, id string, status model.SessionStatus, summary model.SessionSummary, at time.Time) (bool, error) {
	encoded, err := model.EncodeSummary(summary)
	if err != nil {
		return false, err
	}

	column := "committed_at"
	if status == model.SessionCancelled {
		column = "cancelled_at"
	}

	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET status = ?, summary = ?, updated_at = ?, `+column+` = ?
		 WHERE id = ? AND status = 'pending'`,
		status, encoded, at, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("finishing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finishing session: %w", err)
	}
	return n == 1, nil
}

// SessionCounts holds the staging counts of one session.
type SessionCounts struct {
	PendingItems int
	Images       int
}

// CountSessionContents returns how many pending items and images a session holds.
func CountSessionContents(ctx context.Context, q db.Querier, id string) (SessionCounts, error) {
	var c SessionCounts
	err := q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM pending_items WHERE session_id = ?),
		        (SELECT COUNT(*) FROM session_images WHERE session_id = ? AND discarded = 0)`,
		id, id,
	).Scan(&c.PendingItems, &c.Images)
	if err != nil {
		return c, fmt.Errorf("counting session contents: %w", err)
	}
	return c, nil
}
