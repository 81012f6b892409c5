// Package sqlite provides a SQLite-backed implementation of the
// storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the store's time source. Tests use it to age
// memberships and groups without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; serialize at the pool instead of
	// bouncing concurrent joins off SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// groupColumns is the canonical select list for scanGroup.
const groupColumns = `id, status, capacity, current_count, center_lat, center_lng,
	venue_name, venue_address, venue_lat, venue_lng, venue_ref,
	meeting_time, venue_attempts, flagged, created_at, completed_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*models.Group, error) {
	var (
		g           models.Group
		venueName   sql.NullString
		venueAddr   sql.NullString
		venueLat    sql.NullFloat64
		venueLng    sql.NullFloat64
		venueRef    sql.NullString
		meetingTime sql.NullInt64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&g.ID, &g.Status, &g.Capacity, &g.CurrentCount, &g.CenterLat, &g.CenterLng,
		&venueName, &venueAddr, &venueLat, &venueLng, &venueRef,
		&meetingTime, &g.VenueAttempts, &g.Flagged, &g.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if venueName.Valid {
		g.Venue = &models.Venue{
			Name:    venueName.String,
			Address: venueAddr.String,
			Lat:     venueLat.Float64,
			Lng:     venueLng.Float64,
			Ref:     venueRef.String,
		}
	}
	g.MeetingTime = meetingTime.Int64
	g.CompletedAt = completedAt.Int64
	return &g, nil
}

// mapMembershipErr translates a unique-constraint violation on the
// memberships table into the taxonomy error. Both the primary key and the
// single-active partial index mean the same thing to callers: the member
// already occupies a slot.
func mapMembershipErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return storage.ErrAlreadyMember
	}
	return err
}

// mapConflict translates lock contention into the retryable taxonomy
// error. With busy_timeout set this only fires when the database stays
// locked past the timeout.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY") {
		return storage.ErrConflict
	}
	return err
}

// releaseMembers marks every active membership of the group as left.
// Runs inside the caller's transaction.
func releaseMembers(ctx context.Context, tx *sql.Tx, groupID string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE memberships SET status = 'left' WHERE group_id = ? AND status = 'active'",
		groupID,
	)
	return err
}
