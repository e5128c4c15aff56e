package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FIREMAP_HMAC_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("unexpected session ttl: %v", cfg.SessionTTL)
	}
	if cfg.TempSessionTTL != 240*time.Second {
		t.Fatalf("unexpected temp session ttl: %v", cfg.TempSessionTTL)
	}
	if cfg.SessionCookie != "sid" || cfg.TempSessionCookie != "tmp_sid" {
		t.Fatalf("unexpected cookie names: %q %q", cfg.SessionCookie, cfg.TempSessionCookie)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("FIREMAP_HMAC_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing HMAC secret")
	}
}

func TestLoadRejectsBadInteger(t *testing.T) {
	t.Setenv("FIREMAP_HMAC_SECRET", "test-secret")
	t.Setenv("FIREMAP_SESSION_EXPIRE_SECONDS", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer lifetime")
	}
}
