package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tablematch/tablematch/internal/events"
	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/internal/storage/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store   storage.Store
	machine *lifecycle.Machine
	rec     *events.Recorder
	clock   *fakeClock
	r       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "reconcile-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	clock := newFakeClock()
	store, err := sqlite.New(filepath.Join(tempDir, "test.db"), sqlite.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rec := &events.Recorder{}
	machine := lifecycle.New(store, rec)
	return &fixture{
		store:   store,
		machine: machine,
		rec:     rec,
		clock:   clock,
		r:       New(store, machine, 10*time.Minute, clock.Now),
	}
}

func (f *fixture) join(t *testing.T, memberID string) *models.Group {
	t.Helper()
	g, _, err := f.store.JoinOrCreate(context.Background(), storage.JoinRequest{
		MemberID: memberID,
		Lat:      37.5665,
		Lng:      126.9780,
		Capacity: 5,
		RadiusKm: 1.5,
	})
	if err != nil {
		t.Fatalf("JoinOrCreate failed for %s: %v", memberID, err)
	}
	return g
}

// confirmFull fills a group to capacity, confirms it through the machine,
// and assigns a venue.
func (f *fixture) confirmFull(t *testing.T) *models.Group {
	t.Helper()
	ctx := context.Background()

	var g *models.Group
	for i := 0; i < 5; i++ {
		g = f.join(t, fmt.Sprintf("m-%d", i))
	}
	if err := f.machine.EvaluateAfterJoin(ctx, g); err != nil {
		t.Fatalf("EvaluateAfterJoin failed: %v", err)
	}
	v := &models.Venue{Name: "Sunset Diner", Address: "1 Main St"}
	if _, err := f.store.SetVenue(ctx, g.ID, v, f.clock.Now().Add(time.Hour).Unix()); err != nil {
		t.Fatalf("SetVenue failed: %v", err)
	}
	return g
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy groups are a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")

		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("ReconcileAll failed: %v", err)
		}
		if report.Checked != 1 {
			t.Errorf("checked: expected 1, got %d", report.Checked)
		}
		if report.Corrected != 0 || report.Reverted != 0 || report.Deleted != 0 {
			t.Errorf("expected no-op report, got %+v", report)
		}
	})

	t.Run("confirmed group losing a member reverts to waiting", func(t *testing.T) {
		f := newFixture(t)
		g := f.confirmFull(t)

		if _, err := f.store.Leave(ctx, g.ID, "m-2"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}

		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("ReconcileAll failed: %v", err)
		}
		if report.Reverted != 1 {
			t.Fatalf("reverted: expected 1, got %d (%+v)", report.Reverted, report)
		}

		got, _ := f.store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusWaiting {
			t.Errorf("status: expected waiting, got %s", got.Status)
		}
		if got.CurrentCount != 4 {
			t.Errorf("count: expected 4, got %d", got.CurrentCount)
		}
		if got.Venue != nil {
			t.Errorf("venue not cleared: %+v", got.Venue)
		}
		if f.rec.Count(events.RKGroupReverted) != 1 {
			t.Errorf("expected 1 reverted event, got %d", f.rec.Count(events.RKGroupReverted))
		}

		// The reverted group accepts a replacement member.
		if _, _, err := f.store.JoinOrCreate(ctx, storage.JoinRequest{
			MemberID: "replacement", Lat: 37.5665, Lng: 126.9780, Capacity: 5, RadiusKm: 1.5,
		}); err != nil {
			t.Errorf("reverted group rejected a new member: %v", err)
		}
	})

	t.Run("second pass after reversion is a no-op", func(t *testing.T) {
		f := newFixture(t)
		g := f.confirmFull(t)
		if _, err := f.store.Leave(ctx, g.ID, "m-2"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}

		if _, err := f.r.ReconcileAll(ctx); err != nil {
			t.Fatalf("first pass failed: %v", err)
		}
		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("second pass failed: %v", err)
		}
		if report.Corrected != 0 || report.Reverted != 0 || report.Deleted != 0 {
			t.Errorf("expected no-op second pass, got %+v", report)
		}
	})

	t.Run("old empty group is deleted, fresh one kept", func(t *testing.T) {
		f := newFixture(t)

		old := f.join(t, "old")
		if _, err := f.store.Leave(ctx, old.ID, "old"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		f.clock.Advance(11 * time.Minute)

		fresh := f.join(t, "fresh")
		if _, err := f.store.Leave(ctx, fresh.ID, "fresh"); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}

		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("ReconcileAll failed: %v", err)
		}
		if report.Deleted != 1 {
			t.Errorf("deleted: expected 1, got %d", report.Deleted)
		}
		if _, err := f.store.GetGroup(ctx, old.ID); err == nil {
			t.Error("expected old empty group to be deleted")
		}
		if _, err := f.store.GetGroup(ctx, fresh.ID); err != nil {
			t.Errorf("fresh empty group should survive the age guard: %v", err)
		}
	})

	t.Run("full waiting group gets its confirmation retried", func(t *testing.T) {
		f := newFixture(t)

		// Five joins through the store only: the capacity-filling join
		// succeeded but its post-join evaluation never ran.
		var g *models.Group
		for i := 0; i < 5; i++ {
			g = f.join(t, fmt.Sprintf("m-%d", i))
		}
		if g.Status != models.StatusWaiting || !g.Full() {
			t.Fatalf("setup: expected full waiting group, got %s %d/%d", g.Status, g.CurrentCount, g.Capacity)
		}

		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("ReconcileAll failed: %v", err)
		}
		if report.Confirmed != 1 {
			t.Fatalf("confirmed: expected 1, got %+v", report)
		}

		got, _ := f.store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusConfirmed {
			t.Errorf("status: expected confirmed, got %s", got.Status)
		}
		if f.rec.Count(events.RKGroupConfirmed) != 1 {
			t.Errorf("expected 1 confirmed event, got %d", f.rec.Count(events.RKGroupConfirmed))
		}

		// The retried confirmation owes a venue like any other.
		pending, err := f.store.PendingVenueAssignments(ctx)
		if err != nil {
			t.Fatalf("PendingVenueAssignments failed: %v", err)
		}
		if len(pending) != 1 || pending[0] != g.ID {
			t.Errorf("expected pending [%s], got %v", g.ID, pending)
		}

		// Second pass: already confirmed, nothing to retry.
		report, err = f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("second pass failed: %v", err)
		}
		if report.Confirmed != 0 {
			t.Errorf("expected no confirmation on second pass, got %+v", report)
		}
		if f.rec.Count(events.RKGroupConfirmed) != 1 {
			t.Error("second pass must not re-publish the confirmed event")
		}
	})

	t.Run("full confirmed group is not reverted", func(t *testing.T) {
		f := newFixture(t)
		g := f.confirmFull(t)

		report, err := f.r.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("ReconcileAll failed: %v", err)
		}
		if report.Reverted != 0 {
			t.Errorf("reverted a full group: %+v", report)
		}

		got, _ := f.store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusConfirmed {
			t.Errorf("status: expected confirmed, got %s", got.Status)
		}
		if got.Venue == nil {
			t.Error("venue should be untouched")
		}
	})
}
