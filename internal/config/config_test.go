package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_TX_MAX_ATTEMPTS", "")
	t.Setenv("PRESENTATION_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
	if cfg.TxMaxAttempts != 3 {
		t.Fatalf("expected 3 tx attempts, got %d", cfg.TxMaxAttempts)
	}
	if cfg.PresentationCacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.PresentationCacheTTL)
	}
	if cfg.DrawerLockTTL != 10*time.Second {
		t.Fatalf("expected 10s drawer lock ttl, got %s", cfg.DrawerLockTTL)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_TX_MAX_ATTEMPTS", "5")
	t.Setenv("DRAWER_LOCK_TTL_SECONDS", "30")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-4")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.TxMaxAttempts != 5 {
		t.Fatalf("expected 5 tx attempts, got %d", cfg.TxMaxAttempts)
	}
	if cfg.DrawerLockTTL != 30*time.Second {
		t.Fatalf("expected 30s drawer lock ttl, got %s", cfg.DrawerLockTTL)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
	if cfg.MetricsEnabled {
		t.Fatal("expected metrics disabled")
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
