// Package config holds the runtime settings of marketd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultListenAddr         = ":8080"
	defaultDatabaseURL        = "sqlite:///tmp/marketd.db"
	defaultAllowedOrigin      = "http://localhost:3000"
	defaultJWTIssuer          = "marketd"
	defaultSweepSchedule      = "0 * * * *"
	defaultMaxPurchaseCredits = 500
	defaultRateLimitRPS       = 5
	defaultRateLimitBurst     = 10
	defaultMediaDir           = "/tmp/marketd-media"
	defaultShutdownTimeout    = 5 * time.Second

	// LedgerBackendGorm keeps the credit ledger on the shared GORM connection.
	LedgerBackendGorm = "gorm"
	// LedgerBackendPgx runs the credit ledger on a dedicated pgx pool.
	LedgerBackendPgx = "pgx"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for the marketplace server.
type Config struct {
	ListenAddr         string
	DatabaseURL        string
	LedgerBackend      string
	JWTSigningKey      string
	JWTIssuer          string
	AllowedOrigins     []string
	SweepSchedule      string
	SweepEnabled       bool
	MaxPurchaseCredits int64
	RateLimitRPS       float64
	RateLimitBurst     int
	MediaDir           string
	ShutdownTimeout    time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	return nil
}

// ValidateStorage checks only what offline commands such as migrations need.
func (cfg *Config) ValidateStorage() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, LedgerBackendGorm))
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.SweepSchedule = defaultIfEmpty(cfg.SweepSchedule, defaultSweepSchedule)
	cfg.MediaDir = defaultIfEmpty(cfg.MediaDir, defaultMediaDir)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.MaxPurchaseCredits <= 0 {
		cfg.MaxPurchaseCredits = defaultMaxPurchaseCredits
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaultRateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	switch cfg.LedgerBackend {
	case LedgerBackendGorm:
	case LedgerBackendPgx:
		if !IsPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%w: ledger backend %q requires a postgres database url", ErrInvalidConfig, LedgerBackendPgx)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, cfg.LedgerBackend)
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %v", ErrInvalidConfig, cfg.SweepSchedule, err)
	}
	return nil
}

// IsPostgresURL reports whether the DSN targets Postgres.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
