// Package lifecycle owns the group status field and its transition rules.
// Transitions execute as conditional updates in the store, so concurrent
// callers race safely; the winner publishes events and kicks side effects.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablematch/tablematch/internal/events"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/pkg/metrics"
)

// legal maps each status to the statuses reachable from it.
var legal = map[models.GroupStatus][]models.GroupStatus{
	models.StatusWaiting:   {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusWaiting, models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to models.GroupStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine drives group status transitions. Venue assignment is decoupled:
// confirmation writes a trigger marker and nudges the assignment worker;
// it never waits on the external lookup.
type Machine struct {
	store storage.Store
	pub   events.Publisher

	// nudge hands a group ID to the venue assignment worker.
	// Fire-and-forget; the cleanup scheduler re-feeds missed groups.
	nudge func(groupID string)
}

func New(store storage.Store, pub events.Publisher) *Machine {
	return &Machine{store: store, pub: pub, nudge: func(string) {}}
}

// OnConfirm registers the venue worker's nudge func. Called once at
// wiring time.
func (m *Machine) OnConfirm(nudge func(groupID string)) {
	m.nudge = nudge
}

// EvaluateAfterJoin checks whether the join filled the group and, if so,
// confirms it.
func (m *Machine) EvaluateAfterJoin(ctx context.Context, g *models.Group) error {
	if g.Status != models.StatusWaiting || !g.Full() {
		return nil
	}
	_, err := m.ConfirmFull(ctx, g.ID)
	return err
}

// ConfirmFull confirms a waiting group that reached capacity. The
// conditional update in the store guarantees exactly one caller wins the
// transition even when the join path and the reconciler race, so the
// confirmed event and the venue trigger fire once per confirmation.
func (m *Machine) ConfirmFull(ctx context.Context, groupID string) (bool, error) {
	won, err := m.store.ConfirmIfFull(ctx, groupID)
	if err != nil || !won {
		return won, err
	}
	m.afterConfirm(ctx, groupID)
	return true, nil
}

// afterConfirm runs the confirmation side effects: trigger marker, event,
// worker nudge. Publish and marker failures are logged, never unwound;
// the group stays confirmed and the scheduler retries assignment.
func (m *Machine) afterConfirm(ctx context.Context, groupID string) {
	metrics.Confirmations.Inc()
	slog.Info("group confirmed", "group_id", groupID)

	if err := m.store.AddVenueTrigger(ctx, groupID); err != nil {
		slog.Error("failed to record venue trigger", "group_id", groupID, "error", err)
	}

	memberIDs, capacity := m.memberSnapshot(ctx, groupID)
	if err := m.pub.Publish(ctx, events.RKGroupConfirmed, events.GroupConfirmed{
		GroupID:   groupID,
		Capacity:  capacity,
		MemberIDs: memberIDs,
	}); err != nil {
		slog.Error("failed to publish confirmed event", "group_id", groupID, "error", err)
	}

	m.nudge(groupID)
}

func (m *Machine) memberSnapshot(ctx context.Context, groupID string) ([]string, int) {
	var capacity int
	if g, err := m.store.GetGroup(ctx, groupID); err == nil {
		capacity = g.Capacity
	}
	members, err := m.store.ActiveMemberships(ctx, groupID)
	if err != nil {
		slog.Warn("failed to snapshot members", "group_id", groupID, "error", err)
		return nil, capacity
	}
	ids := make([]string, len(members))
	for i, mem := range members {
		ids[i] = mem.MemberID
	}
	return ids, capacity
}

// Revert downgrades a confirmed group to waiting, clearing venue fields.
// Driven by the reconciler when the true count falls below capacity.
func (m *Machine) Revert(ctx context.Context, groupID string, count int) (bool, error) {
	won, err := m.store.Revert(ctx, groupID)
	if err != nil || !won {
		return won, err
	}
	metrics.Reversions.Inc()
	slog.Info("group reverted to waiting", "group_id", groupID, "count", count)
	if err := m.pub.Publish(ctx, events.RKGroupReverted, events.GroupReverted{
		GroupID: groupID,
		Count:   count,
	}); err != nil {
		slog.Error("failed to publish reverted event", "group_id", groupID, "error", err)
	}
	return true, nil
}

// Cancel moves a non-terminal group to cancelled and releases its
// members. Operator action; empty stale waiting groups are deleted by the
// scheduler instead of being marked.
func (m *Machine) Cancel(ctx context.Context, groupID string) (bool, error) {
	won, err := m.store.Cancel(ctx, groupID)
	if err != nil || !won {
		return won, err
	}
	slog.Info("group cancelled", "group_id", groupID)
	if err := m.pub.Publish(ctx, events.RKGroupCancelled, events.GroupSimple{GroupID: groupID}); err != nil {
		slog.Error("failed to publish cancelled event", "group_id", groupID, "error", err)
	}
	return true, nil
}

// ForceConfirm confirms a waiting group regardless of count. Operator
// action; reuses the exact confirmation side-effect path.
func (m *Machine) ForceConfirm(ctx context.Context, groupID string) (bool, error) {
	won, err := m.store.ForceConfirm(ctx, groupID)
	if err != nil || !won {
		return won, err
	}
	m.afterConfirm(ctx, groupID)
	return true, nil
}

// CompleteElapsed moves confirmed groups whose meeting time passed by at
// least margin to completed. Owned by the cleanup scheduler, not by user
// action.
func (m *Machine) CompleteElapsed(ctx context.Context, margin time.Duration) (int, error) {
	ids, err := m.store.CompleteElapsed(ctx, margin)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		slog.Info("group completed", "group_id", id)
		if err := m.pub.Publish(ctx, events.RKGroupCompleted, events.GroupSimple{GroupID: id}); err != nil {
			slog.Error("failed to publish completed event", "group_id", id, "error", err)
		}
	}
	return len(ids), nil
}
