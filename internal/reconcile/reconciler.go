// Package reconcile recomputes authoritative membership counts from raw
// rows and corrects drift in group records. Corrections are commutative
// and re-running against an already-correct group is a no-op, so the
// reconciler is safe to trigger from the scheduler and ad hoc by an
// operator at the same time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/pkg/metrics"
)

// Report summarizes one reconciliation pass. A pass that found nothing to
// do is a valid outcome, not an error; all counters beyond Checked at
// zero is the explicit no-op signal.
type Report struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	Confirmed int `json:"confirmed"`
	Reverted  int `json:"reverted"`
	Deleted   int `json:"deleted"`
}

// Reconciler heals count drift and drives the reversion and
// empty-deletion policies.
type Reconciler struct {
	store       storage.Store
	machine     *lifecycle.Machine
	minEmptyAge time.Duration
	now         func() time.Time
}

// New builds a Reconciler. minEmptyAge guards groups mid-creation from
// the empty-delete policy. A nil now defaults to time.Now.
func New(store storage.Store, machine *lifecycle.Machine, minEmptyAge time.Duration, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: store, machine: machine, minEmptyAge: minEmptyAge, now: now}
}

// ReconcileAll walks every group in the given statuses. Per group:
//
//  1. recompute the true count and correct drift;
//  2. delete the group when the true count is zero and it is older than
//     the minimum-age guard;
//  3. revert a confirmed group whose true count fell below capacity;
//  4. confirm a waiting group whose true count reached capacity, retrying
//     confirmations whose post-join evaluation was lost.
//
// A failure on one group is logged and does not stop the pass.
func (r *Reconciler) ReconcileAll(ctx context.Context, statuses ...models.GroupStatus) (Report, error) {
	if len(statuses) == 0 {
		statuses = []models.GroupStatus{models.StatusWaiting, models.StatusConfirmed}
	}

	groups, err := r.store.ListGroupsByStatus(ctx, statuses...)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list groups: %w", err)
	}

	var report Report
	now := r.now()
	for _, g := range groups {
		report.Checked++
		if err := r.reconcileOne(ctx, g, now, &report); err != nil {
			slog.Error("reconciliation failed for group", "group_id", g.ID, "error", err)
		}
	}

	if report.Corrected == 0 && report.Confirmed == 0 && report.Reverted == 0 && report.Deleted == 0 {
		slog.Debug("reconciliation pass was a no-op", "checked", report.Checked)
	} else {
		slog.Info("reconciliation pass applied corrections",
			"checked", report.Checked,
			"corrected", report.Corrected,
			"confirmed", report.Confirmed,
			"reverted", report.Reverted,
			"deleted", report.Deleted,
		)
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, g *models.Group, now time.Time, report *Report) error {
	count, corrected, err := r.store.CorrectCount(ctx, g.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted since the listing; nothing to heal.
		return nil
	}
	if err != nil {
		return err
	}
	if corrected {
		report.Corrected++
		metrics.CountCorrections.Inc()
		slog.Info("corrected member count",
			"group_id", g.ID,
			"stored", g.CurrentCount,
			"actual", count,
		)
	}

	if count == 0 {
		age := now.Sub(time.Unix(g.CreatedAt, 0))
		if age > r.minEmptyAge {
			if err := r.store.DeleteGroup(ctx, g.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			report.Deleted++
			slog.Info("deleted empty group", "group_id", g.ID, "age", age)
		}
		return nil
	}

	// Confirmation is not a one-way gate: a confirmed group that lost a
	// member drops back to waiting with its venue cleared.
	if g.Status == models.StatusConfirmed && count < g.Capacity {
		won, err := r.machine.Revert(ctx, g.ID, count)
		if err != nil {
			return err
		}
		if won {
			report.Reverted++
		}
	}

	// A full waiting group means the capacity-filling join succeeded but
	// its post-join evaluation did not. Retry the confirmation here; the
	// CAS in the store keeps a racing join-path confirm safe.
	if g.Status == models.StatusWaiting && count == g.Capacity {
		won, err := r.machine.ConfirmFull(ctx, g.ID)
		if err != nil {
			return err
		}
		if won {
			report.Confirmed++
		}
	}
	return nil
}
