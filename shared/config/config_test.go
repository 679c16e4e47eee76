package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("broker1:9092, broker2:9092, ,broker3:9092,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "broker1:9092" || got[2] != "broker3:9092" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg, problems := Load("pipeline-test", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.TripStopGapSec != 300 {
		t.Fatalf("expected stop gap default 300, got %d", cfg.TripStopGapSec)
	}
	if cfg.TripMinDistanceKM != 0.1 {
		t.Fatalf("expected min distance default 0.1, got %v", cfg.TripMinDistanceKM)
	}
	if cfg.GeofenceCooldownSec != 300 {
		t.Fatalf("expected cooldown default 300, got %d", cfg.GeofenceCooldownSec)
	}
	if cfg.TripSyncDays != 7 || cfg.MileageSyncDays != 30 {
		t.Fatalf("unexpected sync window defaults: %d/%d", cfg.TripSyncDays, cfg.MileageSyncDays)
	}
}

func TestLoadRejectsBadRate(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("PROVIDER_RATE_RPS", "-1")
	cfg, problems := Load("pipeline-test", 8080)
	if len(problems) == 0 {
		t.Fatalf("expected a problem for negative rate")
	}
	if cfg.ProviderRateRPS != 5 {
		t.Fatalf("expected rate to fall back to default, got %v", cfg.ProviderRateRPS)
	}
}
