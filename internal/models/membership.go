package models

// MembershipStatus is the state of a member's association with a group.
type MembershipStatus string

const (
	// MemberActive means the member currently occupies a slot.
	MemberActive MembershipStatus = "active"

	// MemberLeft means the slot was released, either by an explicit
	// leave, by abandonment cleanup, or by the group reaching a
	// terminal state.
	MemberLeft MembershipStatus = "left"
)

// Membership is a member's association with one group. A member holds at
// most one active membership across all groups; terminal group transitions
// release their memberships so the member can match again.
type Membership struct {
	// GroupID and MemberID together identify the membership.
	GroupID  string
	MemberID string

	// Status is active or left.
	Status MembershipStatus

	// LastSeen is the Unix timestamp of the member's most recent
	// heartbeat. Liveness tiers are derived from it, never stored.
	LastSeen int64

	// JoinedAt is the Unix timestamp when the member joined.
	JoinedAt int64

	// JoinLat and JoinLng are the member's approximate location at join
	// time, used for the venue-search centroid.
	JoinLat float64
	JoinLng float64
}
