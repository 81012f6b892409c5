// Package events defines the lifecycle events the engine publishes for
// the notification and messaging collaborators, and the publishers that
// carry them. The engine never formats or delivers user-facing messages;
// it only announces state changes.
package events

// Routing keys on the topic exchange.
const (
	RKGroupConfirmed = "group.confirmed"
	RKVenueAssigned  = "group.venue_assigned"
	RKGroupReverted  = "group.reverted"
	RKGroupCompleted = "group.completed"
	RKGroupCancelled = "group.cancelled"
	RKGroupAttention = "group.attention"
)

// GroupConfirmed carries enough for a "your group is full" notification.
type GroupConfirmed struct {
	GroupID   string   `json:"group_id"`
	Capacity  int      `json:"capacity"`
	MemberIDs []string `json:"member_ids"`
}

// VenueAssigned announces the picked venue and meeting time.
type VenueAssigned struct {
	GroupID      string  `json:"group_id"`
	VenueName    string  `json:"venue_name"`
	VenueAddress string  `json:"venue_address"`
	VenueLat     float64 `json:"venue_lat"`
	VenueLng     float64 `json:"venue_lng"`
	MeetingTime  int64   `json:"meeting_time"` // unix seconds
}

// GroupReverted announces a confirmed group downgraded to waiting after
// losing a member.
type GroupReverted struct {
	GroupID string `json:"group_id"`
	Count   int    `json:"count"`
}

// GroupSimple covers completed / cancelled / attention events.
type GroupSimple struct {
	GroupID string `json:"group_id"`
}
