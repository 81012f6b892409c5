// Package cleanup runs the recurring janitor that reclaims abandoned
// groups and heals drift. The periodic tick and the operator's "run now"
// share one implementation.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/reconcile"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/internal/venue"
	"github.com/tablematch/tablematch/pkg/metrics"
)

// Config carries the janitor's intervals and windows, injected from the
// one configuration struct.
type Config struct {
	// Interval between periodic passes.
	Interval time.Duration

	// AbandonAfter is the long-horizon inactivity threshold past which
	// a membership is pruned.
	AbandonAfter time.Duration

	// MinEmptyAge guards freshly created empty groups from deletion.
	MinEmptyAge time.Duration

	// CompleteAfter is the margin past the meeting time before a
	// confirmed group is considered held and completed.
	CompleteAfter time.Duration

	// CompletedRetention is how long completed groups are kept.
	CompletedRetention time.Duration

	// TriggerTTL is the short TTL for orphaned venue trigger markers.
	TriggerTTL time.Duration
}

// Scheduler owns the periodic cleanup loop.
type Scheduler struct {
	store   storage.Store
	machine *lifecycle.Machine
	rec     *reconcile.Reconciler
	worker  *venue.Worker
	cfg     Config

	// running makes overlapping passes impossible: a tick that fires
	// while a pass is active is skipped, never queued.
	running atomic.Bool
}

func New(store storage.Store, machine *lifecycle.Machine, rec *reconcile.Reconciler, worker *venue.Worker, cfg Config) *Scheduler {
	return &Scheduler{
		store:   store,
		machine: machine,
		rec:     rec,
		worker:  worker,
		cfg:     cfg,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("cleanup scheduler started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// RunNow executes one cleanup pass immediately. The operator's emergency
// entry point and the periodic tick both land here. Returns false when a
// pass was already active and this one was skipped.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("cleanup pass already active, skipping")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()

	// Steps run in a fixed order because later steps assume earlier
	// steps' invariants: reconciliation expects stale memberships
	// already pruned, deletion expects counts already healed. A failed
	// step is logged and the pass continues.
	s.step(ctx, "complete_elapsed", s.completeElapsed)
	s.step(ctx, "prune_abandoned", s.pruneAbandoned)
	s.step(ctx, "reconcile_counts", s.reconcileCounts)
	s.step(ctx, "delete_empty_waiting", s.deleteEmptyWaiting)
	s.step(ctx, "delete_completed", s.deleteCompleted)
	s.step(ctx, "sweep_venue_triggers", s.sweepVenueTriggers)

	metrics.CleanupRuns.Inc()
	slog.Info("cleanup pass finished", "duration_ms", time.Since(start).Milliseconds())
	return true
}

func (s *Scheduler) step(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		metrics.CleanupStepFailures.WithLabelValues(name).Inc()
		slog.Error("cleanup step failed", "step", name, "error", err)
	}
}

func (s *Scheduler) completeElapsed(ctx context.Context) error {
	n, err := s.machine.CompleteElapsed(ctx, s.cfg.CompleteAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("completed elapsed groups", "count", n)
	}
	return nil
}

func (s *Scheduler) pruneAbandoned(ctx context.Context) error {
	n, err := s.store.PruneStaleMemberships(ctx, s.cfg.AbandonAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("pruned abandoned memberships", "count", n)
	}
	return nil
}

func (s *Scheduler) reconcileCounts(ctx context.Context) error {
	_, err := s.rec.ReconcileAll(ctx, models.StatusWaiting, models.StatusConfirmed)
	return err
}

func (s *Scheduler) deleteEmptyWaiting(ctx context.Context) error {
	n, err := s.store.DeleteEmptyWaiting(ctx, s.cfg.MinEmptyAge)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("deleted empty waiting groups", "count", n)
	}
	return nil
}

func (s *Scheduler) deleteCompleted(ctx context.Context) error {
	n, err := s.store.DeleteCompletedBefore(ctx, s.cfg.CompletedRetention)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("deleted retained completed groups", "count", n)
	}
	return nil
}

// sweepVenueTriggers drops orphaned trigger markers and re-feeds groups
// still owed a venue to the assignment worker. This is the retry path
// for confirmations whose fire-and-forget nudge was lost.
func (s *Scheduler) sweepVenueTriggers(ctx context.Context) error {
	n, err := s.store.DeleteStaleVenueTriggers(ctx, s.cfg.TriggerTTL)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("deleted stale venue triggers", "count", n)
	}

	pending, err := s.store.PendingVenueAssignments(ctx)
	if err != nil {
		return err
	}
	for _, id := range pending {
		if err := s.store.AddVenueTrigger(ctx, id); err != nil {
			slog.Warn("failed to refresh venue trigger", "group_id", id, "error", err)
		}
		s.worker.Nudge(id)
	}
	return nil
}
