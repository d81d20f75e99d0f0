package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKUP_RATE", "")
	t.Setenv("RETURN_GRACE_DAYS", "")

	cfg := Load()
	if cfg.MarkupRate.String() != "0.12" {
		t.Errorf("MarkupRate = %s, want 0.12", cfg.MarkupRate)
	}
	if cfg.ReturnGraceDays != 3 {
		t.Errorf("ReturnGraceDays = %d, want 3", cfg.ReturnGraceDays)
	}
	if cfg.ExternalTimeout != 15*time.Second {
		t.Errorf("ExternalTimeout = %v, want 15s", cfg.ExternalTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	admin := uuid.New()
	t.Setenv("MARKUP_RATE", "0.2")
	t.Setenv("PLATFORM_FEE_RATE", "not-a-number")
	t.Setenv("DEFAULT_CURRENCY", "EUR")
	t.Setenv("ADMIN_USER_IDS", admin.String()+", garbage ,")

	cfg := Load()
	if cfg.MarkupRate.String() != "0.2" {
		t.Errorf("MarkupRate = %s, want 0.2", cfg.MarkupRate)
	}
	if cfg.PlatformFeeRate.String() != "0.1" {
		t.Errorf("PlatformFeeRate = %s, want fallback 0.1", cfg.PlatformFeeRate)
	}
	if cfg.DefaultCurrency != "eur" {
		t.Errorf("DefaultCurrency = %q, want eur", cfg.DefaultCurrency)
	}
	if !cfg.IsAdmin(admin) || len(cfg.AdminUserIDs) != 1 {
		t.Errorf("AdminUserIDs = %v, want [%s]", cfg.AdminUserIDs, admin)
	}
	if cfg.IsAdmin(uuid.New()) {
		t.Error("random user reported as admin")
	}
}
