package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")
	t.Setenv("EXPIRY_HORIZON_DAYS", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("port = %s, want 8080", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportCacheTTLSeconds != 30 {
		t.Fatalf("cache ttl = %d, want 30", cfg.ReportCacheTTLSeconds)
	}
	if cfg.ExpiryHorizonDays != 30 {
		t.Fatalf("horizon = %d, want 30", cfg.ExpiryHorizonDays)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %s, want :8080", cfg.Address())
	}
}

func TestLoadRejectsGarbageNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("EXPIRY_HORIZON_DAYS", "-5")

	cfg := Load()

	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ExpiryHorizonDays != 30 {
		t.Fatalf("horizon = %d, want fallback 30", cfg.ExpiryHorizonDays)
	}
}
