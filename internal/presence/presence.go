// Package presence classifies member liveness from heartbeat timestamps.
//
// A liveness tier is a pure function of now minus the last heartbeat; it
// is derived on demand and never stored. Tiers decide notification
// eligibility and reclamation, never membership validity.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablematch/tablematch/internal/storage"
)

// Tier is an ordered liveness band.
type Tier int

const (
	// TierConnected: heartbeat within the connected window; the member
	// is actively using the matching screen.
	TierConnected Tier = iota

	// TierWaiting: recent heartbeat; app likely backgrounded.
	TierWaiting

	// TierPassive: older heartbeat, still within grace.
	TierPassive

	// TierAbandoned: beyond grace; not notified, subject to cleanup.
	TierAbandoned
)

func (t Tier) String() string {
	switch t {
	case TierConnected:
		return "connected"
	case TierWaiting:
		return "waiting"
	case TierPassive:
		return "passive"
	default:
		return "abandoned"
	}
}

// Thresholds are the tier boundaries, injected from config so they are
// defined once rather than scattered across call sites.
type Thresholds struct {
	Connected time.Duration // elapsed <= Connected -> connected
	Waiting   time.Duration // elapsed <= Waiting   -> waiting
	Passive   time.Duration // elapsed <= Passive   -> passive, else abandoned
}

// DefaultThresholds mirror the config defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Connected: 5 * time.Minute,
		Waiting:   30 * time.Minute,
		Passive:   60 * time.Minute,
	}
}

// Classify maps an elapsed-since-heartbeat duration to a tier. Boundaries
// are inclusive on the fresher side: elapsed exactly equal to a threshold
// still counts as the fresher tier.
func (th Thresholds) Classify(lastSeen, now time.Time) Tier {
	elapsed := now.Sub(lastSeen)
	switch {
	case elapsed <= th.Connected:
		return TierConnected
	case elapsed <= th.Waiting:
		return TierWaiting
	case elapsed <= th.Passive:
		return TierPassive
	default:
		return TierAbandoned
	}
}

// MemberTier is one member's classification at a point in time.
type MemberTier struct {
	MemberID string
	Tier     Tier
	LastSeen int64
}

// StillLive reports whether the group holds at least one non-abandoned
// member.
func StillLive(tiers []MemberTier) bool {
	for _, mt := range tiers {
		if mt.Tier != TierAbandoned {
			return true
		}
	}
	return false
}

// Tracker records heartbeats and classifies members against the
// configured thresholds.
type Tracker struct {
	store storage.Store
	th    Thresholds
	now   func() time.Time
}

// NewTracker builds a Tracker. A nil now defaults to time.Now.
func NewTracker(store storage.Store, th Thresholds, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, th: th, now: now}
}

// Heartbeat updates the member's liveness timestamp. Best effort: storage
// errors are logged and swallowed so a failed heartbeat never fails the
// caller's broader operation.
func (t *Tracker) Heartbeat(ctx context.Context, groupID, memberID string) {
	if err := t.store.Heartbeat(ctx, groupID, memberID); err != nil {
		slog.Warn("heartbeat dropped",
			"group_id", groupID,
			"member_id", memberID,
			"error", err,
		)
	}
}

// ClassifyMember returns the tier of one active member.
func (t *Tracker) ClassifyMember(ctx context.Context, groupID, memberID string) (Tier, error) {
	members, err := t.store.ActiveMemberships(ctx, groupID)
	if err != nil {
		return TierAbandoned, err
	}
	now := t.now()
	for _, m := range members {
		if m.MemberID == memberID {
			return t.th.Classify(time.Unix(m.LastSeen, 0), now), nil
		}
	}
	return TierAbandoned, storage.ErrNotFound
}

// ClassifyGroup returns the tier of every active member of the group.
func (t *Tracker) ClassifyGroup(ctx context.Context, groupID string) ([]MemberTier, error) {
	members, err := t.store.ActiveMemberships(ctx, groupID)
	if err != nil {
		return nil, err
	}
	now := t.now()
	tiers := make([]MemberTier, len(members))
	for i, m := range members {
		tiers[i] = MemberTier{
			MemberID: m.MemberID,
			Tier:     t.th.Classify(time.Unix(m.LastSeen, 0), now),
			LastSeen: m.LastSeen,
		}
	}
	return tiers, nil
}

// EligibleForNotification returns the IDs of members not classified
// abandoned.
func (t *Tracker) EligibleForNotification(ctx context.Context, groupID string) ([]string, error) {
	tiers, err := t.ClassifyGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, mt := range tiers {
		if mt.Tier != TierAbandoned {
			ids = append(ids, mt.MemberID)
		}
	}
	return ids, nil
}
