// Package storage provides abstractions for persistent group and
// membership storage.
package storage

import (
	"context"
	"time"

	"github.com/tablematch/tablematch/internal/models"
)

// JoinRequest carries everything the store needs to place a member.
type JoinRequest struct {
	// MemberID identifies the joining member.
	MemberID string

	// Lat and Lng are the member's approximate location. They drive
	// candidate-group selection and the venue-search centroid.
	Lat float64
	Lng float64

	// Capacity is the group size the member is matched into. Only
	// groups with the same capacity are candidates.
	Capacity int

	// RadiusKm bounds how far away a candidate group's center may be.
	RadiusKm float64
}

// Store defines the interface for group storage operations. This
// abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the engine packages.
//
// CurrentCount is the only hot shared mutable field; every mutation of it
// goes through JoinOrCreate, Leave, CorrectCount or PruneStaleMemberships.
// No caller may read-modify-write it.
type Store interface {
	// JoinOrCreate atomically adds the member to a compatible waiting
	// group with spare capacity, or creates a new group with the member
	// as sole occupant. The returned bool is true when a group was
	// created. Returns ErrAlreadyMember if the member already holds an
	// active membership anywhere.
	JoinOrCreate(ctx context.Context, req JoinRequest) (*models.Group, bool, error)

	// Leave marks the membership left and decrements the group count.
	// Empty groups are left in place for the cleanup scheduler; they
	// are never deleted inline.
	Leave(ctx context.Context, groupID, memberID string) (*models.Group, error)

	// Heartbeat updates the membership's last-seen timestamp to now.
	// Returns ErrNotFound if no active membership exists.
	Heartbeat(ctx context.Context, groupID, memberID string) error

	// GetGroup retrieves a group by ID.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsByStatus returns all groups in any of the given
	// statuses, oldest first.
	ListGroupsByStatus(ctx context.Context, statuses ...models.GroupStatus) ([]*models.Group, error)

	// ActiveMemberships returns the group's active memberships, oldest
	// join first.
	ActiveMemberships(ctx context.Context, groupID string) ([]*models.Membership, error)

	// CorrectCount recomputes the true membership count from raw rows
	// and writes it back iff it differs from the stored count. Returns
	// the true count and whether a correction was written.
	CorrectCount(ctx context.Context, groupID string) (int, bool, error)

	// ConfirmIfFull transitions waiting -> confirmed iff the count
	// equals capacity. Exactly one of any set of concurrent callers
	// observes true.
	ConfirmIfFull(ctx context.Context, groupID string) (bool, error)

	// ForceConfirm transitions waiting -> confirmed regardless of
	// count. Operator path only.
	ForceConfirm(ctx context.Context, groupID string) (bool, error)

	// Revert transitions confirmed -> waiting and clears every
	// venue-assignment field, the attempt counter and the flag.
	Revert(ctx context.Context, groupID string) (bool, error)

	// Cancel transitions a non-terminal group to cancelled and
	// releases its memberships.
	Cancel(ctx context.Context, groupID string) (bool, error)

	// CompleteElapsed transitions every confirmed group whose meeting
	// time elapsed more than margin ago to completed, releases their
	// memberships, and returns the affected group IDs.
	CompleteElapsed(ctx context.Context, margin time.Duration) ([]string, error)

	// SetVenue writes venue fields and the meeting time onto a
	// confirmed group that has no venue yet. Returns false when the
	// group already has a venue or is not confirmed (idempotent no-op).
	SetVenue(ctx context.Context, groupID string, v *models.Venue, meetingTime int64) (bool, error)

	// BumpVenueAttempts increments the failed-assignment counter and
	// returns the new value.
	BumpVenueAttempts(ctx context.Context, groupID string) (int, error)

	// FlagForAttention marks the group for operator visibility.
	FlagForAttention(ctx context.Context, groupID string) error

	// AddVenueTrigger records that venue assignment is owed for the
	// group. Idempotent.
	AddVenueTrigger(ctx context.Context, groupID string) error

	// DeleteVenueTrigger removes the group's trigger marker once
	// assignment has succeeded or become moot.
	DeleteVenueTrigger(ctx context.Context, groupID string) error

	// PendingVenueAssignments returns IDs of confirmed, unflagged
	// groups that still lack a venue.
	PendingVenueAssignments(ctx context.Context) ([]string, error)

	// DeleteStaleVenueTriggers removes orphaned trigger markers older
	// than ttl whose group no longer needs assignment.
	DeleteStaleVenueTriggers(ctx context.Context, ttl time.Duration) (int, error)

	// PruneStaleMemberships releases active memberships whose last-seen
	// timestamp is older than inactiveFor and recomputes the affected
	// groups' counts. Returns the number of memberships released.
	PruneStaleMemberships(ctx context.Context, inactiveFor time.Duration) (int, error)

	// DeleteEmptyWaiting hard-deletes waiting groups that have no
	// active members and are older than minAge. The age guard protects
	// groups mid-creation.
	DeleteEmptyWaiting(ctx context.Context, minAge time.Duration) (int, error)

	// DeleteCompletedBefore hard-deletes completed groups whose
	// completion is older than retention.
	DeleteCompletedBefore(ctx context.Context, retention time.Duration) (int, error)

	// DeleteGroup hard-deletes a group and its memberships.
	DeleteGroup(ctx context.Context, groupID string) error

	// Close releases any resources held by the store.
	Close() error
}
