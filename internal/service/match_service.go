// Package service orchestrates the engine's operations behind the HTTP
// surface: the foreground join/leave/heartbeat path and the operator
// tooling.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/presence"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/pkg/metrics"
)

// MatchService handles the synchronous member-facing path. Joins block on
// the storage round-trip only; confirmation side effects run through the
// lifecycle machine and the async venue worker.
type MatchService struct {
	store    storage.Store
	machine  *lifecycle.Machine
	tracker  *presence.Tracker
	capacity int
	radiusKm float64
}

func NewMatchService(store storage.Store, machine *lifecycle.Machine, tracker *presence.Tracker, capacity int, radiusKm float64) *MatchService {
	return &MatchService{
		store:    store,
		machine:  machine,
		tracker:  tracker,
		capacity: capacity,
		radiusKm: radiusKm,
	}
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	Group   *models.Group
	Created bool
}

// Join places the member into a nearby forming group or opens a new one,
// then lets the state machine evaluate the new count. Only
// ErrAlreadyMember is member-actionable; everything else maps to a
// generic retry at the transport layer.
func (s *MatchService) Join(ctx context.Context, memberID string, lat, lng float64) (*JoinResult, error) {
	g, created, err := s.store.JoinOrCreate(ctx, storage.JoinRequest{
		MemberID: memberID,
		Lat:      lat,
		Lng:      lng,
		Capacity: s.capacity,
		RadiusKm: s.radiusKm,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyMember) {
			metrics.Joins.WithLabelValues("already_member").Inc()
		} else {
			metrics.Joins.WithLabelValues("error").Inc()
			slog.Error("join failed", "member_id", memberID, "error", err)
		}
		return nil, err
	}

	if created {
		metrics.Joins.WithLabelValues("created").Inc()
		slog.Info("group created", "group_id", g.ID, "member_id", memberID)
	} else {
		metrics.Joins.WithLabelValues("joined").Inc()
		slog.Info("member joined group",
			"group_id", g.ID,
			"member_id", memberID,
			"count", g.CurrentCount,
			"capacity", g.Capacity,
		)
	}

	// Confirmation failures stay in the background: the member's join
	// already succeeded and the reconciler retries the confirmation on
	// the next cleanup pass.
	if err := s.machine.EvaluateAfterJoin(ctx, g); err != nil {
		slog.Error("post-join evaluation failed", "group_id", g.ID, "error", err)
	}

	return &JoinResult{Group: g, Created: created}, nil
}

// Leave releases the member's slot. The group lingers even when it
// empties; reclamation belongs to the cleanup scheduler.
func (s *MatchService) Leave(ctx context.Context, groupID, memberID string) (*models.Group, error) {
	g, err := s.store.Leave(ctx, groupID, memberID)
	if err != nil {
		return nil, err
	}
	slog.Info("member left group",
		"group_id", groupID,
		"member_id", memberID,
		"count", g.CurrentCount,
	)
	return g, nil
}

// Heartbeat refreshes the member's liveness timestamp. Never fails the
// caller.
func (s *MatchService) Heartbeat(ctx context.Context, groupID, memberID string) {
	s.tracker.Heartbeat(ctx, groupID, memberID)
}

// GetGroup returns the group record.
func (s *MatchService) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// Presence returns the liveness tier of every active member.
func (s *MatchService) Presence(ctx context.Context, groupID string) ([]presence.MemberTier, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.tracker.ClassifyGroup(ctx, groupID)
}
