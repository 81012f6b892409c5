package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
)

// Leave marks the membership left and decrements the group count, floored
// at zero. Empty groups linger for the cleanup scheduler's age guard; they
// are never deleted here.
func (s *SQLiteStore) Leave(ctx context.Context, groupID, memberID string) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE memberships SET status = 'left'
		WHERE group_id = ? AND member_id = ? AND status = 'active'`,
		groupID, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark membership left: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE groups SET current_count = MAX(current_count - 1, 0) WHERE id = ?`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement count: %w", err)
	}

	g, err := scanGroup(tx.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to read group after leave: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return g, nil
}

// Heartbeat updates the membership's last-seen timestamp to now.
func (s *SQLiteStore) Heartbeat(ctx context.Context, groupID, memberID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET last_seen = ?
		WHERE group_id = ? AND member_id = ? AND status = 'active'`,
		s.now().Unix(), groupID, memberID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ActiveMemberships returns the group's active memberships, oldest join
// first.
func (s *SQLiteStore) ActiveMemberships(ctx context.Context, groupID string) ([]*models.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, member_id, status, last_seen, joined_at, join_lat, join_lng
		FROM memberships
		WHERE group_id = ? AND status = 'active'
		ORDER BY joined_at ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.GroupID, &m.MemberID, &m.Status, &m.LastSeen,
			&m.JoinedAt, &m.JoinLat, &m.JoinLng); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// PruneStaleMemberships releases active memberships whose last-seen
// timestamp is older than inactiveFor, then recomputes the affected
// groups' counts from raw rows. One transaction; re-running is a no-op.
func (s *SQLiteStore) PruneStaleMemberships(ctx context.Context, inactiveFor time.Duration) (int, error) {
	cutoff := s.now().Add(-inactiveFor).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM memberships
		WHERE status = 'active' AND last_seen <= ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale memberships: %w", err)
	}
	var groupIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan group id: %w", err)
		}
		groupIDs = append(groupIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE memberships SET status = 'left'
		WHERE status = 'active' AND last_seen <= ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale memberships: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	for _, id := range groupIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE groups SET current_count = (
				SELECT COUNT(*) FROM memberships m
				WHERE m.group_id = groups.id AND m.status = 'active'
			) WHERE id = ?`,
			id,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to recount group %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(pruned), nil
}
