package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tablematch/tablematch/internal/events"
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

func newTestMachine(t *testing.T) (*Machine, storage.Store, *events.Recorder, *fakeClock) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "lifecycle-test-*")
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
	return New(store, rec), store, rec, clock
}

func join(t *testing.T, store storage.Store, memberID string) *models.Group {
	t.Helper()
	g, _, err := store.JoinOrCreate(context.Background(), storage.JoinRequest{
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

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.GroupStatus
		want     bool
	}{
		{models.StatusWaiting, models.StatusConfirmed, true},
		{models.StatusWaiting, models.StatusCancelled, true},
		{models.StatusWaiting, models.StatusCompleted, false},
		{models.StatusConfirmed, models.StatusWaiting, true},
		{models.StatusConfirmed, models.StatusCompleted, true},
		{models.StatusConfirmed, models.StatusCancelled, true},
		{models.StatusCompleted, models.StatusWaiting, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusConfirmed, false},
		{models.StatusCancelled, models.StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestEvaluateAfterJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("below capacity is a no-op", func(t *testing.T) {
		m, store, rec, _ := newTestMachine(t)

		g := join(t, store, "alice")
		if err := m.EvaluateAfterJoin(ctx, g); err != nil {
			t.Fatalf("EvaluateAfterJoin failed: %v", err)
		}

		got, _ := store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusWaiting {
			t.Errorf("status: expected waiting, got %s", got.Status)
		}
		if rec.Count(events.RKGroupConfirmed) != 0 {
			t.Error("expected no confirmed event below capacity")
		}
	})

	t.Run("fifth join confirms and fires side effects once", func(t *testing.T) {
		m, store, rec, _ := newTestMachine(t)

		var nudgeMu sync.Mutex
		var nudged []string
		m.OnConfirm(func(id string) {
			nudgeMu.Lock()
			nudged = append(nudged, id)
			nudgeMu.Unlock()
		})

		var g *models.Group
		for i := 0; i < 5; i++ {
			g = join(t, store, fmt.Sprintf("m-%d", i))
		}
		if err := m.EvaluateAfterJoin(ctx, g); err != nil {
			t.Fatalf("EvaluateAfterJoin failed: %v", err)
		}

		got, _ := store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusConfirmed {
			t.Fatalf("status: expected confirmed, got %s", got.Status)
		}
		if rec.Count(events.RKGroupConfirmed) != 1 {
			t.Errorf("expected 1 confirmed event, got %d", rec.Count(events.RKGroupConfirmed))
		}
		if len(nudged) != 1 || nudged[0] != g.ID {
			t.Errorf("expected one nudge for %s, got %v", g.ID, nudged)
		}

		payload, ok := rec.Events()[0].Payload.(events.GroupConfirmed)
		if !ok {
			t.Fatalf("unexpected payload type %T", rec.Events()[0].Payload)
		}
		if len(payload.MemberIDs) != 5 {
			t.Errorf("expected 5 member IDs in event, got %d", len(payload.MemberIDs))
		}
	})

	t.Run("ConfirmFull retries a lost confirmation", func(t *testing.T) {
		m, store, rec, _ := newTestMachine(t)

		var g *models.Group
		for i := 0; i < 5; i++ {
			g = join(t, store, fmt.Sprintf("m-%d", i))
		}

		won, err := m.ConfirmFull(ctx, g.ID)
		if err != nil {
			t.Fatalf("ConfirmFull failed: %v", err)
		}
		if !won {
			t.Fatal("expected the retry to win")
		}
		if rec.Count(events.RKGroupConfirmed) != 1 {
			t.Errorf("expected 1 confirmed event, got %d", rec.Count(events.RKGroupConfirmed))
		}

		won, err = m.ConfirmFull(ctx, g.ID)
		if err != nil {
			t.Fatalf("ConfirmFull failed: %v", err)
		}
		if won {
			t.Error("expected a second retry to lose")
		}
		if rec.Count(events.RKGroupConfirmed) != 1 {
			t.Error("lost retry must not publish")
		}
	})

	t.Run("racing evaluations confirm exactly once", func(t *testing.T) {
		m, store, rec, _ := newTestMachine(t)

		var g *models.Group
		for i := 0; i < 5; i++ {
			g = join(t, store, fmt.Sprintf("m-%d", i))
		}

		const callers = 8
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.EvaluateAfterJoin(ctx, g)
			}()
		}
		wg.Wait()

		if n := rec.Count(events.RKGroupConfirmed); n != 1 {
			t.Errorf("expected exactly 1 confirmed event, got %d", n)
		}
	})
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	m, store, rec, _ := newTestMachine(t)

	var g *models.Group
	for i := 0; i < 5; i++ {
		g = join(t, store, fmt.Sprintf("m-%d", i))
	}
	if err := m.EvaluateAfterJoin(ctx, g); err != nil {
		t.Fatalf("EvaluateAfterJoin failed: %v", err)
	}

	won, err := m.Revert(ctx, g.ID, 4)
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if !won {
		t.Fatal("expected revert to win")
	}
	if rec.Count(events.RKGroupReverted) != 1 {
		t.Errorf("expected 1 reverted event, got %d", rec.Count(events.RKGroupReverted))
	}

	// Already waiting; a second revert loses.
	won, err = m.Revert(ctx, g.ID, 4)
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if won {
		t.Error("expected second revert to lose")
	}
	if rec.Count(events.RKGroupReverted) != 1 {
		t.Error("lost revert must not publish")
	}
}

func TestForceConfirmAndCancel(t *testing.T) {
	ctx := context.Background()
	m, store, rec, _ := newTestMachine(t)

	g := join(t, store, "alice")

	t.Run("force confirm below capacity", func(t *testing.T) {
		won, err := m.ForceConfirm(ctx, g.ID)
		if err != nil {
			t.Fatalf("ForceConfirm failed: %v", err)
		}
		if !won {
			t.Fatal("expected force confirm to win")
		}
		got, _ := store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusConfirmed {
			t.Errorf("status: expected confirmed, got %s", got.Status)
		}
		if rec.Count(events.RKGroupConfirmed) != 1 {
			t.Errorf("expected 1 confirmed event, got %d", rec.Count(events.RKGroupConfirmed))
		}
	})

	t.Run("cancel a confirmed group", func(t *testing.T) {
		won, err := m.Cancel(ctx, g.ID)
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if !won {
			t.Fatal("expected cancel to win")
		}
		got, _ := store.GetGroup(ctx, g.ID)
		if got.Status != models.StatusCancelled {
			t.Errorf("status: expected cancelled, got %s", got.Status)
		}
		if rec.Count(events.RKGroupCancelled) != 1 {
			t.Errorf("expected 1 cancelled event, got %d", rec.Count(events.RKGroupCancelled))
		}
	})

	t.Run("cancel is terminal", func(t *testing.T) {
		won, err := m.Cancel(ctx, g.ID)
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if won {
			t.Error("expected cancel of a terminal group to lose")
		}
	})
}

func TestCompleteElapsed(t *testing.T) {
	ctx := context.Background()
	m, store, rec, clock := newTestMachine(t)

	var g *models.Group
	for i := 0; i < 5; i++ {
		g = join(t, store, fmt.Sprintf("m-%d", i))
	}
	if err := m.EvaluateAfterJoin(ctx, g); err != nil {
		t.Fatalf("EvaluateAfterJoin failed: %v", err)
	}
	if _, err := store.SetVenue(ctx, g.ID, &models.Venue{Name: "Sunset Diner"}, clock.Now().Unix()); err != nil {
		t.Fatalf("SetVenue failed: %v", err)
	}

	clock.Advance(3 * time.Hour)
	n, err := m.CompleteElapsed(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("CompleteElapsed failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
	if rec.Count(events.RKGroupCompleted) != 1 {
		t.Errorf("expected 1 completed event, got %d", rec.Count(events.RKGroupCompleted))
	}

	got, _ := store.GetGroup(ctx, g.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status: expected completed, got %s", got.Status)
	}
}
