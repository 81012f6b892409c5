package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
)

// candidateLimit bounds how many nearby waiting groups a join attempt
// walks before giving up and creating a new group.
const candidateLimit = 20

// JoinOrCreate places the member into the oldest compatible waiting group
// within the search radius, or creates a new group around the member's
// location. Each join attempt is a single transaction whose capacity check
// and count increment are one conditional UPDATE, so concurrent callers
// can never push a group past capacity.
func (s *SQLiteStore) JoinOrCreate(ctx context.Context, req storage.JoinRequest) (*models.Group, bool, error) {
	candidates, err := s.findCandidates(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find candidate groups: %w", err)
	}

	for _, c := range candidates {
		g, err := s.join(ctx, c, req)
		if errors.Is(err, storage.ErrNoCapacity) {
			// Filled (or confirmed) between selection and write.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return g, false, nil
	}

	g, err := s.createWithMember(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// findCandidates returns IDs of waiting groups with spare capacity whose
// center lies within the search radius, oldest first. A bounding box does
// the coarse filter in SQL; the exact haversine check runs here.
func (s *SQLiteStore) findCandidates(ctx context.Context, req storage.JoinRequest) ([]string, error) {
	latDelta := req.RadiusKm / 111.0
	lngDelta := latDelta
	if cos := math.Cos(req.Lat * math.Pi / 180); cos > 0.01 {
		lngDelta = req.RadiusKm / (111.0 * cos)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, center_lat, center_lng FROM groups
		WHERE status = 'waiting' AND current_count < capacity AND capacity = ?
		  AND center_lat BETWEEN ? AND ?
		  AND center_lng BETWEEN ? AND ?
		ORDER BY created_at ASC
		LIMIT ?`,
		req.Capacity,
		req.Lat-latDelta, req.Lat+latDelta,
		req.Lng-lngDelta, req.Lng+lngDelta,
		candidateLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var lat, lng float64
		if err := rows.Scan(&id, &lat, &lng); err != nil {
			return nil, err
		}
		if haversineKm(req.Lat, req.Lng, lat, lng) <= req.RadiusKm {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// join adds the member to one specific group. The membership insert and
// the increment-with-ceiling UPDATE commit or roll back together.
func (s *SQLiteStore) join(ctx context.Context, groupID string, req storage.JoinRequest) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertMembership(ctx, tx, groupID, req); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE groups SET current_count = current_count + 1
		WHERE id = ? AND status = 'waiting' AND current_count < capacity`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, storage.ErrNoCapacity
	}

	g, err := scanGroup(tx.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to read joined group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", mapConflict(err))
	}
	return g, nil
}

// createWithMember opens a new group centered on the member's location.
func (s *SQLiteStore) createWithMember(ctx context.Context, req storage.JoinRequest) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	g := &models.Group{
		ID:           uuid.New().String(),
		Status:       models.StatusWaiting,
		Capacity:     req.Capacity,
		CurrentCount: 1,
		CenterLat:    req.Lat,
		CenterLng:    req.Lng,
		CreatedAt:    now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, status, capacity, current_count, center_lat, center_lng, created_at)
		VALUES (?, 'waiting', ?, 1, ?, ?, ?)`,
		g.ID, g.Capacity, g.CenterLat, g.CenterLng, g.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	if err := s.insertMembership(ctx, tx, g.ID, req); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", mapConflict(err))
	}
	return g, nil
}

// insertMembership writes the active membership row. A previous 'left' row
// for the same (group, member) pair is replaced; an active row anywhere
// trips the single-active index and surfaces as ErrAlreadyMember.
func (s *SQLiteStore) insertMembership(ctx context.Context, tx *sql.Tx, groupID string, req storage.JoinRequest) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM memberships WHERE group_id = ? AND member_id = ? AND status = 'left'",
		groupID, req.MemberID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear old membership: %w", err)
	}

	now := s.now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memberships (group_id, member_id, status, last_seen, joined_at, join_lat, join_lng)
		VALUES (?, ?, 'active', ?, ?, ?, ?)`,
		groupID, req.MemberID, now, now, req.Lat, req.Lng,
	)
	return mapMembershipErr(err)
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", groupID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListGroupsByStatus returns all groups in any of the given statuses,
// oldest first.
func (s *SQLiteStore) ListGroupsByStatus(ctx context.Context, statuses ...models.GroupStatus) ([]*models.Group, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE status IN ("+placeholders+") ORDER BY created_at ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CorrectCount recomputes the true active-membership count and writes it
// back iff it differs. Re-running against an already-correct group is a
// no-op, so the operation is idempotent and safe to race with itself.
func (s *SQLiteStore) CorrectCount(ctx context.Context, groupID string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int
	err = tx.QueryRowContext(ctx,
		"SELECT current_count FROM groups WHERE id = ?", groupID,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return 0, false, storage.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read stored count: %w", err)
	}

	var actual int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memberships WHERE group_id = ? AND status = 'active'", groupID,
	).Scan(&actual)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count memberships: %w", err)
	}

	if actual == stored {
		return actual, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE groups SET current_count = ? WHERE id = ?", actual, groupID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to correct count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return actual, true, nil
}

// DeleteGroup hard-deletes a group; memberships and trigger markers
// cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteEmptyWaiting hard-deletes waiting groups with no active members
// older than minAge. The NOT EXISTS clause guards against drifted counts.
func (s *SQLiteStore) DeleteEmptyWaiting(ctx context.Context, minAge time.Duration) (int, error) {
	cutoff := s.now().Add(-minAge).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM groups
		WHERE status = 'waiting' AND created_at <= ?
		  AND NOT EXISTS (
		    SELECT 1 FROM memberships m
		    WHERE m.group_id = groups.id AND m.status = 'active'
		  )`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty groups: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteCompletedBefore hard-deletes completed groups past the retention
// window.
func (s *SQLiteStore) DeleteCompletedBefore(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM groups
		WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at <= ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed groups: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
