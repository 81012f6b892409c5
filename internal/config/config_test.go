package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.GroupCapacity != 5 {
		t.Errorf("GroupCapacity: expected 5, got %d", cfg.GroupCapacity)
	}
	if cfg.MatchRadiusKm != 1.5 {
		t.Errorf("MatchRadiusKm: expected 1.5, got %f", cfg.MatchRadiusKm)
	}
	if cfg.ConnectedWithin != 5*time.Minute || cfg.WaitingWithin != 30*time.Minute || cfg.PassiveWithin != time.Hour {
		t.Errorf("presence thresholds: got %v/%v/%v", cfg.ConnectedWithin, cfg.WaitingWithin, cfg.PassiveWithin)
	}
	if cfg.CleanupInterval != 2*time.Hour {
		t.Errorf("CleanupInterval: expected 2h, got %v", cfg.CleanupInterval)
	}
	if cfg.RabbitURL != "" {
		t.Errorf("RabbitURL: expected empty default, got %s", cfg.RabbitURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GROUP_CAPACITY", "4")
	t.Setenv("MATCH_RADIUS_KM", "3.0")
	t.Setenv("ABANDON_AFTER", "12h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GroupCapacity != 4 {
		t.Errorf("GroupCapacity: expected 4, got %d", cfg.GroupCapacity)
	}
	if cfg.MatchRadiusKm != 3.0 {
		t.Errorf("MatchRadiusKm: expected 3.0, got %f", cfg.MatchRadiusKm)
	}
	if cfg.AbandonAfter != 12*time.Hour {
		t.Errorf("AbandonAfter: expected 12h, got %v", cfg.AbandonAfter)
	}
}
