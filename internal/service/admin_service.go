package service

import (
	"context"

	"github.com/tablematch/tablematch/internal/cleanup"
	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/reconcile"
)

// AdminService is the operator surface. Every operation reuses the same
// internal functions as the automatic paths; there is no separate
// admin-only code driving transitions.
type AdminService struct {
	rec     *reconcile.Reconciler
	janitor *cleanup.Scheduler
	machine *lifecycle.Machine
}

func NewAdminService(rec *reconcile.Reconciler, janitor *cleanup.Scheduler, machine *lifecycle.Machine) *AdminService {
	return &AdminService{rec: rec, janitor: janitor, machine: machine}
}

// Reconcile runs a full reconciliation pass over waiting and confirmed
// groups and returns the report.
func (s *AdminService) Reconcile(ctx context.Context) (reconcile.Report, error) {
	return s.rec.ReconcileAll(ctx)
}

// CleanupNow triggers an immediate cleanup pass. Returns false when a
// pass was already running and this request was skipped.
func (s *AdminService) CleanupNow(ctx context.Context) bool {
	return s.janitor.RunNow(ctx)
}

// ForceConfirm confirms a waiting group regardless of member count.
func (s *AdminService) ForceConfirm(ctx context.Context, groupID string) (bool, error) {
	return s.machine.ForceConfirm(ctx, groupID)
}

// ForceCancel cancels a non-terminal group.
func (s *AdminService) ForceCancel(ctx context.Context, groupID string) (bool, error) {
	return s.machine.Cancel(ctx, groupID)
}
