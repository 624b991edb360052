package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerPort != "8090" {
		t.Fatalf("ServerPort = %q, want default 8090", cfg.ServerPort)
	}
	if cfg.StripeAPIBaseURL != "https://api.stripe.com" {
		t.Fatalf("StripeAPIBaseURL = %q", cfg.StripeAPIBaseURL)
	}
	if cfg.SyncWindowDays != 30 {
		t.Fatalf("SyncWindowDays = %d, want default 30", cfg.SyncWindowDays)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://localhost/access")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("SYNC_SCHEDULE", "0 3 * * *")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("ServerPort = %q, want 9999", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://localhost/access" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.StripeAPIKey != "sk_test_123" {
		t.Fatalf("StripeAPIKey = %q", cfg.StripeAPIKey)
	}
	if cfg.SyncSchedule != "0 3 * * *" {
		t.Fatalf("SyncSchedule = %q", cfg.SyncSchedule)
	}
}
