package config

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{JWTSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.DatabaseURL != defaultDatabaseURL {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.LedgerBackend != LedgerBackendGorm || cfg.SweepSchedule != defaultSweepSchedule {
		t.Fatalf("unexpected backend or schedule: %+v", cfg)
	}
	if cfg.MaxPurchaseCredits != defaultMaxPurchaseCredits || cfg.RateLimitBurst != defaultRateLimitBurst {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{defaultAllowedOrigin}) {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing signing key", cfg: Config{}},
		{name: "unknown backend", cfg: Config{JWTSigningKey: "k", LedgerBackend: "redis"}},
		{name: "pgx on sqlite", cfg: Config{JWTSigningKey: "k", LedgerBackend: "PGX"}},
		{name: "bad schedule", cfg: Config{JWTSigningKey: "k", SweepSchedule: "hourly-ish"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if err := testCase.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateStorageSkipsSigningKey(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	if err := cfg.ValidateStorage(); err != nil {
		t.Fatalf("validate storage: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing signing key to fail full validation, got %v", err)
	}
}

func TestValidateAcceptsPgxOnPostgres(t *testing.T) {
	t.Parallel()
	cfg := Config{JWTSigningKey: "k", LedgerBackend: "pgx", DatabaseURL: "postgres://db/market"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Parallel()
	got := ParseAllowedOrigins(" https://a.example , ,https://b.example")
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		t.Fatalf("expected no origins for blank input")
	}
}
