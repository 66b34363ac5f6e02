package config

import (
	"testing"
	"time"

	"github.com/basculapp/fieldsync/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("expected batch size 20, got %d", cfg.BatchSize)
	}
	if cfg.Debounce != 3*time.Second {
		t.Errorf("expected 3s debounce, got %v", cfg.Debounce)
	}
	if cfg.MinSyncInterval != 30*time.Second {
		t.Errorf("expected 30s min interval, got %v", cfg.MinSyncInterval)
	}
	if cfg.MinScore != 50 {
		t.Errorf("expected min score 50, got %d", cfg.MinScore)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("expected 30 retention days, got %d", cfg.RetentionDays)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_RETRIES", "5")
	t.Setenv("FIELDSYNC_DEBOUNCE", "10s")
	t.Setenv("FIELDSYNC_API_URL", "https://api.bascula.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.MaxRetries)
	}
	if cfg.Debounce != 10*time.Second {
		t.Errorf("expected 10s debounce, got %v", cfg.Debounce)
	}
	if cfg.APIBaseURL != "https://api.bascula.example.com" {
		t.Errorf("unexpected base URL: %s", cfg.APIBaseURL)
	}
}

func TestUnparseableValueFallsBack(t *testing.T) {
	t.Setenv("FIELDSYNC_BATCH_SIZE", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("expected fallback batch size 20, got %d", cfg.BatchSize)
	}
}

func TestValidation(t *testing.T) {
	t.Setenv("FIELDSYNC_MIN_SCORE", "150")

	_, err := Load()
	if !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
