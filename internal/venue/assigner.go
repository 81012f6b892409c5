// Package venue assigns a meeting place to confirmed groups by calling
// the external venue-search collaborator with the centroid of member
// join locations.
package venue

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablematch/tablematch/internal/events"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/pkg/metrics"
)

// Assigner performs idempotent venue assignment. Re-invocation on an
// already-assigned or no-longer-confirmed group is a check-and-return
// no-op, so at-least-once delivery of triggers is safe.
type Assigner struct {
	store       storage.Store
	finder      Finder
	pub         events.Publisher
	timeout     time.Duration
	maxAttempts int
	leadTime    time.Duration
	now         func() time.Time
}

// Config bounds the external call and the retry budget.
type Config struct {
	// Timeout caps one FindVenue call.
	Timeout time.Duration

	// MaxAttempts is the failed-attempt budget before the group is
	// flagged for operator attention. Retries stop once flagged; the
	// group is never auto-cancelled.
	MaxAttempts int

	// LeadTime is how far after assignment the meeting is scheduled.
	LeadTime time.Duration
}

func NewAssigner(store storage.Store, finder Finder, pub events.Publisher, cfg Config, now func() time.Time) *Assigner {
	if now == nil {
		now = time.Now
	}
	return &Assigner{
		store:       store,
		finder:      finder,
		pub:         pub,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		leadTime:    cfg.LeadTime,
		now:         now,
	}
}

// Assign picks a venue for the group and writes it back. Errors from the
// external collaborator are absorbed here: the attempt counter is bumped,
// the group stays confirmed with a null venue, and the next scheduler
// pass retries until the budget runs out.
func (a *Assigner) Assign(ctx context.Context, groupID string) {
	g, err := a.store.GetGroup(ctx, groupID)
	if err != nil {
		slog.Warn("venue assignment skipped", "group_id", groupID, "error", err)
		return
	}
	if g.Status != models.StatusConfirmed || g.Venue != nil {
		// Reverted, cancelled, or already assigned since the trigger.
		if err := a.store.DeleteVenueTrigger(ctx, groupID); err != nil {
			slog.Warn("failed to clear venue trigger", "group_id", groupID, "error", err)
		}
		metrics.VenueAssignments.WithLabelValues("noop").Inc()
		return
	}
	if g.Flagged {
		return
	}

	lat, lng := a.centroid(ctx, g)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	v, err := a.finder.FindVenue(cctx, lat, lng)
	if err != nil {
		a.recordFailure(ctx, groupID, err)
		return
	}

	meeting := nextHalfHour(a.now().Add(a.leadTime)).Unix()
	assigned, err := a.store.SetVenue(ctx, groupID, v, meeting)
	if err != nil {
		a.recordFailure(ctx, groupID, err)
		return
	}
	if !assigned {
		// Lost a race with another assignment or a reversion.
		metrics.VenueAssignments.WithLabelValues("noop").Inc()
		return
	}

	if err := a.store.DeleteVenueTrigger(ctx, groupID); err != nil {
		slog.Warn("failed to clear venue trigger", "group_id", groupID, "error", err)
	}
	metrics.VenueAssignments.WithLabelValues("assigned").Inc()
	slog.Info("venue assigned",
		"group_id", groupID,
		"venue", v.Name,
		"meeting_time", meeting,
	)

	if err := a.pub.Publish(ctx, events.RKVenueAssigned, events.VenueAssigned{
		GroupID:      groupID,
		VenueName:    v.Name,
		VenueAddress: v.Address,
		VenueLat:     v.Lat,
		VenueLng:     v.Lng,
		MeetingTime:  meeting,
	}); err != nil {
		slog.Error("failed to publish venue event", "group_id", groupID, "error", err)
	}
}

// recordFailure bumps the attempt counter and, once the budget is spent,
// flags the group for operator attention.
func (a *Assigner) recordFailure(ctx context.Context, groupID string, cause error) {
	metrics.VenueAssignments.WithLabelValues("error").Inc()
	slog.Warn("venue assignment failed", "group_id", groupID, "error", cause)

	attempts, err := a.store.BumpVenueAttempts(ctx, groupID)
	if err != nil {
		slog.Error("failed to bump venue attempts", "group_id", groupID, "error", err)
		return
	}
	if attempts < a.maxAttempts {
		return
	}

	if err := a.store.FlagForAttention(ctx, groupID); err != nil {
		slog.Error("failed to flag group", "group_id", groupID, "error", err)
		return
	}
	// Flagged groups leave the retry pool; their marker is moot.
	if err := a.store.DeleteVenueTrigger(ctx, groupID); err != nil {
		slog.Warn("failed to clear venue trigger", "group_id", groupID, "error", err)
	}
	slog.Error("venue assignment budget exhausted, group flagged",
		"group_id", groupID,
		"attempts", attempts,
	)
	if err := a.pub.Publish(ctx, events.RKGroupAttention, events.GroupSimple{GroupID: groupID}); err != nil {
		slog.Error("failed to publish attention event", "group_id", groupID, "error", err)
	}
}

// centroid averages the active members' join locations, falling back to
// the group's matching center when none carry one.
func (a *Assigner) centroid(ctx context.Context, g *models.Group) (float64, float64) {
	members, err := a.store.ActiveMemberships(ctx, g.ID)
	if err != nil || len(members) == 0 {
		return g.CenterLat, g.CenterLng
	}
	var lat, lng float64
	n := 0
	for _, m := range members {
		if m.JoinLat == 0 && m.JoinLng == 0 {
			continue
		}
		lat += m.JoinLat
		lng += m.JoinLng
		n++
	}
	if n == 0 {
		return g.CenterLat, g.CenterLng
	}
	return lat / float64(n), lng / float64(n)
}

// nextHalfHour rounds t up to the next half-hour mark. A time already on
// a mark is returned unchanged.
func nextHalfHour(t time.Time) time.Time {
	aligned := t.Truncate(30 * time.Minute)
	if aligned.Equal(t) {
		return t
	}
	return aligned.Add(30 * time.Minute)
}
