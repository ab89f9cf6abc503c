package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Addr != ":8790" {
		t.Errorf("Addr = %q, want :8790", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL)
	}
	if cfg.AdminEmail != "" {
		t.Errorf("AdminEmail should default to empty, got %q", cfg.AdminEmail)
	}
	if cfg.StrictStages {
		t.Error("StrictStages should default to false")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "studio@atelier.dev")
	t.Setenv("ATELIER_STRICT_STAGES", "true")
	t.Setenv("ATELIER_ACCESS_TTL_SECONDS", "60")

	cfg := Load()

	if cfg.AdminEmail != "studio@atelier.dev" {
		t.Errorf("AdminEmail = %q", cfg.AdminEmail)
	}
	if !cfg.StrictStages {
		t.Error("StrictStages should be true")
	}
	if cfg.AccessTTL != time.Minute {
		t.Errorf("AccessTTL = %v, want 1m", cfg.AccessTTL)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ATELIER_ACCESS_TTL_SECONDS", "not-a-number")
	t.Setenv("ATELIER_STRICT_STAGES", "maybe")

	cfg := Load()

	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want fallback 15m", cfg.AccessTTL)
	}
	if cfg.StrictStages {
		t.Error("StrictStages should fall back to false")
	}
}
