package config

import (
	"testing"
	"time"
)

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":18085")
	t.Setenv("API_BASE_URL", "http://127.0.0.1:9999/api/v1/")
	t.Setenv("API_TIMEOUT", "5s")
	t.Setenv("OFFICE_RADIUS_METERS", "120.5")
	t.Setenv("STATUS_REFRESH_INTERVAL_SECONDS", "45")
	t.Setenv("MARKER_STORE", "Redis")

	cfg := Load()
	if cfg.HTTPAddr != ":18085" {
		t.Fatalf("expected HTTP_ADDR override, got %s", cfg.HTTPAddr)
	}
	if cfg.APIBaseURL != "http://127.0.0.1:9999/api/v1" {
		t.Fatalf("expected trimmed API_BASE_URL, got %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 5*time.Second {
		t.Fatalf("expected API_TIMEOUT 5s, got %s", cfg.APITimeout)
	}
	if cfg.OfficeRadiusMeters != 120.5 {
		t.Fatalf("expected radius 120.5, got %v", cfg.OfficeRadiusMeters)
	}
	if cfg.StatusRefreshInterval != 45*time.Second {
		t.Fatalf("expected refresh interval 45s, got %s", cfg.StatusRefreshInterval)
	}
	if cfg.MarkerStore != "redis" {
		t.Fatalf("expected lowercased marker store, got %s", cfg.MarkerStore)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.OfficeLatitude != 5.767477 || cfg.OfficeLongitude != -0.180019 {
		t.Fatalf("unexpected office coordinate %v,%v", cfg.OfficeLatitude, cfg.OfficeLongitude)
	}
	if cfg.OfficeRadiusMeters != 50 {
		t.Fatalf("expected 50m radius, got %v", cfg.OfficeRadiusMeters)
	}
	if cfg.LocationTimeout != 15*time.Second {
		t.Fatalf("expected 15s location timeout, got %s", cfg.LocationTimeout)
	}
	if cfg.SuccessDismissDelay != 2*time.Second {
		t.Fatalf("expected 2s dismiss delay, got %s", cfg.SuccessDismissDelay)
	}
}

func TestCutoffClock(t *testing.T) {
	cases := map[string][2]int{
		"17:00": {17, 0},
		"18:30": {18, 30},
		"bogus": {17, 0},
	}
	for raw, expect := range cases {
		hour, minute := Config{OvertimeCutoff: raw}.CutoffClock()
		if hour != expect[0] || minute != expect[1] {
			t.Fatalf("cutoff %q expected %v got %d:%d", raw, expect, hour, minute)
		}
	}
}

func TestOfficeLocationFallback(t *testing.T) {
	if loc := (Config{OfficeTimezone: "Not/AZone"}).OfficeLocation(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
}
