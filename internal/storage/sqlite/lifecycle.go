package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
)

// Status transitions are single conditional UPDATEs: the WHERE clause
// carries the legal source state, so of any number of concurrent callers
// exactly one observes rows-affected == 1. Callers treat that bool as
// "I won the transition" and own the side effects.

// ConfirmIfFull transitions waiting -> confirmed iff count == capacity.
func (s *SQLiteStore) ConfirmIfFull(ctx context.Context, groupID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET status = 'confirmed'
		WHERE id = ? AND status = 'waiting' AND current_count = capacity`,
		groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to confirm group: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ForceConfirm transitions waiting -> confirmed regardless of count.
func (s *SQLiteStore) ForceConfirm(ctx context.Context, groupID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET status = 'confirmed'
		WHERE id = ? AND status = 'waiting'`,
		groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to force-confirm group: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Revert transitions confirmed -> waiting and clears the venue fields,
// meeting time, attempt counter and attention flag. Confirmation is not a
// one-way gate: any capacity shortfall downgrades the group.
func (s *SQLiteStore) Revert(ctx context.Context, groupID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET
			status = 'waiting',
			venue_name = NULL, venue_address = NULL,
			venue_lat = NULL, venue_lng = NULL, venue_ref = NULL,
			meeting_time = NULL, venue_attempts = 0, flagged = 0
		WHERE id = ? AND status = 'confirmed'`,
		groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revert group: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Cancel transitions a non-terminal group to cancelled and releases its
// memberships so members can match again.
func (s *SQLiteStore) Cancel(ctx context.Context, groupID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE groups SET status = 'cancelled'
		WHERE id = ? AND status IN ('waiting', 'confirmed')`,
		groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := releaseMembers(ctx, tx, groupID); err != nil {
		return false, fmt.Errorf("failed to release members: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// CompleteElapsed transitions confirmed groups whose meeting time elapsed
// more than margin ago to completed and releases their memberships.
func (s *SQLiteStore) CompleteElapsed(ctx context.Context, margin time.Duration) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-margin).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM groups
		WHERE status = 'confirmed' AND meeting_time IS NOT NULL AND meeting_time <= ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find elapsed groups: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE groups SET status = 'completed', completed_at = ? WHERE id = ?`,
			now.Unix(), id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to complete group %s: %w", id, err)
		}
		if err := releaseMembers(ctx, tx, id); err != nil {
			return nil, fmt.Errorf("failed to release members of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// SetVenue writes the venue fields and meeting time onto a confirmed
// group that has no venue yet. The venue_name IS NULL condition makes
// re-invocation on an already-assigned group a no-op.
func (s *SQLiteStore) SetVenue(ctx context.Context, groupID string, v *models.Venue, meetingTime int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET
			venue_name = ?, venue_address = ?, venue_lat = ?, venue_lng = ?,
			venue_ref = ?, meeting_time = ?
		WHERE id = ? AND status = 'confirmed' AND venue_name IS NULL`,
		v.Name, v.Address, v.Lat, v.Lng, v.Ref, meetingTime, groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set venue: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// BumpVenueAttempts increments the failed-assignment counter and returns
// the new value.
func (s *SQLiteStore) BumpVenueAttempts(ctx context.Context, groupID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE groups SET venue_attempts = venue_attempts + 1 WHERE id = ?", groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump venue attempts: %w", err)
	}

	var attempts int
	err = tx.QueryRowContext(ctx,
		"SELECT venue_attempts FROM groups WHERE id = ?", groupID,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read venue attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return attempts, nil
}

// FlagForAttention marks the group for operator visibility.
func (s *SQLiteStore) FlagForAttention(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE groups SET flagged = 1 WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to flag group: %w", err)
	}
	return nil
}

// AddVenueTrigger records that venue assignment is owed for the group.
func (s *SQLiteStore) AddVenueTrigger(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO venue_triggers (group_id, created_at) VALUES (?, ?)",
		groupID, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add venue trigger: %w", err)
	}
	return nil
}

// DeleteVenueTrigger removes the group's trigger marker.
func (s *SQLiteStore) DeleteVenueTrigger(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM venue_triggers WHERE group_id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete venue trigger: %w", err)
	}
	return nil
}

// PendingVenueAssignments returns IDs of confirmed, unflagged groups that
// still lack a venue, oldest first. The scheduler re-feeds these to the
// assignment worker each pass.
func (s *SQLiteStore) PendingVenueAssignments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM groups
		WHERE status = 'confirmed' AND venue_name IS NULL AND flagged = 0
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteStaleVenueTriggers removes trigger markers older than ttl whose
// group no longer needs assignment (assigned, reverted, flagged,
// terminal, or gone). Markers for groups still awaiting a venue are kept
// regardless of age.
func (s *SQLiteStore) DeleteStaleVenueTriggers(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM venue_triggers
		WHERE created_at <= ?
		  AND group_id NOT IN (
		    SELECT id FROM groups
		    WHERE status = 'confirmed' AND venue_name IS NULL AND flagged = 0
		  )`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale triggers: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
