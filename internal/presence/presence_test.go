package presence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tablematch/tablematch/internal/storage"
	"github.com/tablematch/tablematch/internal/storage/sqlite"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    Tier
	}{
		{"just seen", 0, TierConnected},
		{"inside connected window", 4 * time.Minute, TierConnected},
		{"exactly at connected boundary", 5 * time.Minute, TierConnected},
		{"one past connected boundary", 5*time.Minute + time.Second, TierWaiting},
		{"exactly at waiting boundary", 30 * time.Minute, TierWaiting},
		{"one past waiting boundary", 30*time.Minute + time.Second, TierPassive},
		{"exactly at passive boundary", 60 * time.Minute, TierPassive},
		{"one past passive boundary", 60*time.Minute + time.Second, TierAbandoned},
		{"long gone", 48 * time.Hour, TierAbandoned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := th.Classify(now.Add(-tt.elapsed), now)
			if got != tt.want {
				t.Errorf("Classify(%v): expected %s, got %s", tt.elapsed, tt.want, got)
			}
		})
	}
}

func TestStillLive(t *testing.T) {
	t.Run("one passive member keeps the group live", func(t *testing.T) {
		tiers := []MemberTier{
			{MemberID: "a", Tier: TierAbandoned},
			{MemberID: "b", Tier: TierPassive},
		}
		if !StillLive(tiers) {
			t.Error("expected group to be live")
		}
	})

	t.Run("all abandoned is dead", func(t *testing.T) {
		tiers := []MemberTier{
			{MemberID: "a", Tier: TierAbandoned},
			{MemberID: "b", Tier: TierAbandoned},
		}
		if StillLive(tiers) {
			t.Error("expected group to be dead")
		}
	})

	t.Run("empty is dead", func(t *testing.T) {
		if StillLive(nil) {
			t.Error("expected empty group to be dead")
		}
	})
}

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

func newTrackerWithStore(t *testing.T) (*Tracker, storage.Store, *fakeClock) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "presence-test-*")
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

	return NewTracker(store, DefaultThresholds(), clock.Now), store, clock
}

func TestTracker(t *testing.T) {
	tracker, store, clock := newTrackerWithStore(t)
	ctx := context.Background()

	req := storage.JoinRequest{MemberID: "alice", Lat: 37.5665, Lng: 126.9780, Capacity: 5, RadiusKm: 1.5}
	g, _, err := store.JoinOrCreate(ctx, req)
	if err != nil {
		t.Fatalf("JoinOrCreate failed: %v", err)
	}
	req.MemberID = "bob"
	if _, _, err := store.JoinOrCreate(ctx, req); err != nil {
		t.Fatalf("JoinOrCreate failed: %v", err)
	}

	t.Run("fresh members are connected", func(t *testing.T) {
		tier, err := tracker.ClassifyMember(ctx, g.ID, "alice")
		if err != nil {
			t.Fatalf("ClassifyMember failed: %v", err)
		}
		if tier != TierConnected {
			t.Errorf("expected connected, got %s", tier)
		}
	})

	t.Run("tiers diverge without heartbeats", func(t *testing.T) {
		clock.Advance(45 * time.Minute)
		tracker.Heartbeat(ctx, g.ID, "alice")

		tiers, err := tracker.ClassifyGroup(ctx, g.ID)
		if err != nil {
			t.Fatalf("ClassifyGroup failed: %v", err)
		}
		byMember := map[string]Tier{}
		for _, mt := range tiers {
			byMember[mt.MemberID] = mt.Tier
		}
		if byMember["alice"] != TierConnected {
			t.Errorf("alice: expected connected, got %s", byMember["alice"])
		}
		if byMember["bob"] != TierPassive {
			t.Errorf("bob: expected passive, got %s", byMember["bob"])
		}
	})

	t.Run("abandoned members drop off the notification list", func(t *testing.T) {
		clock.Advance(45 * time.Minute) // bob now >60m stale, alice 45m
		ids, err := tracker.EligibleForNotification(ctx, g.ID)
		if err != nil {
			t.Fatalf("EligibleForNotification failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != "alice" {
			t.Errorf("expected [alice], got %v", ids)
		}
	})

	t.Run("heartbeat for unknown member does not panic", func(t *testing.T) {
		tracker.Heartbeat(ctx, g.ID, "ghost")
	})

	t.Run("classify unknown member", func(t *testing.T) {
		if _, err := tracker.ClassifyMember(ctx, g.ID, "ghost"); err == nil {
			t.Error("expected an error for unknown member")
		}
	})
}
