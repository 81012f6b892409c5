package models

// GroupStatus is the lifecycle state of a group.
//
// Legal transitions:
//
//	waiting   -> confirmed  (capacity reached)
//	confirmed -> waiting    (member lost after confirmation; venue cleared)
//	confirmed -> completed  (meeting time elapsed)
//	waiting   -> cancelled  (operator action; empty stale groups are deleted instead)
//	confirmed -> cancelled  (operator action)
//
// completed and cancelled are terminal.
type GroupStatus string

const (
	StatusWaiting   GroupStatus = "waiting"
	StatusConfirmed GroupStatus = "confirmed"
	StatusCompleted GroupStatus = "completed"
	StatusCancelled GroupStatus = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s GroupStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Venue is the assigned meeting place for a confirmed group.
// All fields come from the external venue-search collaborator.
type Venue struct {
	// Name is the venue's display name.
	Name string

	// Address is the human-readable street address.
	Address string

	// Lat and Lng are the venue's coordinates.
	Lat float64
	Lng float64

	// Ref is the collaborator's external reference for the venue.
	Ref string
}

// Group is a bounded-capacity matching unit between members.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Status is the current lifecycle state.
	Status GroupStatus

	// Capacity is the fixed member limit, set at creation.
	Capacity int

	// CurrentCount is the denormalized count of active memberships.
	// It may transiently drift under concurrent writes; the reconciler
	// heals it within one cycle. Invariant: CurrentCount <= Capacity.
	CurrentCount int

	// CenterLat and CenterLng form the matching centroid, fixed at the
	// first member's join location. Later joins match against it.
	CenterLat float64
	CenterLng float64

	// Venue is non-nil only once assignment has completed. A confirmed
	// group may carry a nil Venue while assignment is in flight.
	Venue *Venue

	// MeetingTime is the Unix timestamp of the planned meeting,
	// derived at venue assignment. Zero means unset.
	MeetingTime int64

	// VenueAttempts counts failed venue-assignment attempts.
	VenueAttempts int

	// Flagged marks a group that exhausted its venue-assignment
	// attempts and needs operator attention.
	Flagged bool

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64

	// CompletedAt is the Unix timestamp when the group completed.
	// Zero until then.
	CompletedAt int64
}

// Full reports whether the group has reached its capacity.
func (g *Group) Full() bool {
	return g.CurrentCount >= g.Capacity
}
