package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// The partial unique index on memberships enforces the single-active-
// membership invariant at the storage layer: a member can hold at most one
// active row across all groups. Terminal group transitions release rows to
// 'left' so the member can match again.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'waiting',
    capacity INTEGER NOT NULL,
    current_count INTEGER NOT NULL DEFAULT 0,
    center_lat REAL NOT NULL DEFAULT 0,
    center_lng REAL NOT NULL DEFAULT 0,
    venue_name TEXT,
    venue_address TEXT,
    venue_lat REAL,
    venue_lng REAL,
    venue_ref TEXT,
    meeting_time INTEGER,
    venue_attempts INTEGER NOT NULL DEFAULT 0,
    flagged INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS memberships (
    group_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    last_seen INTEGER NOT NULL,
    joined_at INTEGER NOT NULL,
    join_lat REAL NOT NULL DEFAULT 0,
    join_lng REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (group_id, member_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_one_active
    ON memberships(member_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS venue_triggers (
    group_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_groups_status ON groups(status);
CREATE INDEX IF NOT EXISTS idx_groups_status_center ON groups(status, center_lat, center_lng);
CREATE INDEX IF NOT EXISTS idx_memberships_group_id ON memberships(group_id);
CREATE INDEX IF NOT EXISTS idx_memberships_last_seen ON memberships(status, last_seen);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
