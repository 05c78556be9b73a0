package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ISMISTUBE_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("ISMISTUBE_STORE", "")
	t.Setenv("ISMISTUBE_SESSION_TTL", "")
	t.Setenv("ISMISTUBE_CORS_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 3000 {
		t.Fatalf("expected default port 3000 got %d", cfg.AppPort)
	}
	if cfg.Store != StoreFile {
		t.Fatalf("expected file store got %q", cfg.Store)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl got %v", cfg.SessionTTL)
	}
	if cfg.MaxUploadBytes != 1<<30 {
		t.Fatalf("expected 1GiB upload limit got %d", cfg.MaxUploadBytes)
	}
	if cfg.BcryptCost != 10 {
		t.Fatalf("expected bcrypt cost 10 got %d", cfg.BcryptCost)
	}
	if cfg.CookieSecure {
		t.Fatal("expected non-secure cookie by default")
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Fatalf("expected no cors origins got %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ISMISTUBE_PORT", "")
	t.Setenv("ISMISTUBE_STORE", "SQLite")
	t.Setenv("ISMISTUBE_SESSION_TTL", "2h")
	t.Setenv("ISMISTUBE_COOKIE_SECURE", "true")
	t.Setenv("ISMISTUBE_CORS_ORIGINS", "http://localhost:4200/, https://ismistube.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 9000 {
		t.Fatalf("expected PORT fallback 9000 got %d", cfg.AppPort)
	}
	if cfg.Store != StoreSQLite {
		t.Fatalf("expected sqlite store got %q", cfg.Store)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected 2h ttl got %v", cfg.SessionTTL)
	}
	if !cfg.CookieSecure {
		t.Fatal("expected secure cookie")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:4200" || cfg.CORSOrigins[1] != "https://ismistube.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("ISMISTUBE_PORT", "not-a-port")
	t.Setenv("PORT", "")
	t.Setenv("ISMISTUBE_SESSION_TTL", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 3000 {
		t.Fatalf("expected fallback port got %d", cfg.AppPort)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected fallback ttl got %v", cfg.SessionTTL)
	}
}
