package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/internal/config"
	"github.com/MarkoPoloResearchLab/classifieds/internal/httpapi"
	"github.com/MarkoPoloResearchLab/classifieds/internal/server"
	"github.com/MarkoPoloResearchLab/classifieds/internal/store/migrations"
)

const (
	flagEnvFile            = "env-file"
	flagListenAddr         = "listen-addr"
	flagDatabaseURL        = "database-url"
	flagLedgerBackend      = "ledger-backend"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagAllowedOrigins     = "allowed-origins"
	flagSweepSchedule      = "sweep-schedule"
	flagSweepEnabled       = "sweep-enabled"
	flagMaxPurchaseCredits = "max-purchase-credits"
	flagRateLimitRPS       = "rate-limit-rps"
	flagRateLimitBurst     = "rate-limit-burst"
	flagMediaDir           = "media-dir"
	flagShutdownTimeout    = "shutdown-timeout"
	flagSteps              = "steps"
	flagRole               = "role"
	flagTTL                = "ttl"
	envPrefix              = "MARKETD"
	annotationStorageOnly  = "storage-only"
	defaultEnvFile         = ".env"
)

var configFlags = []string{
	flagListenAddr, flagDatabaseURL, flagLedgerBackend, flagJWTSigningKey, flagJWTIssuer,
	flagAllowedOrigins, flagSweepSchedule, flagSweepEnabled, flagMaxPurchaseCredits,
	flagRateLimitRPS, flagRateLimitBurst, flagMediaDir, flagShutdownTimeout,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	serve := func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("zap init: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		return server.Run(ctx, *cfg, logger)
	}

	cmd := &cobra.Command{
		Use:           "marketd",
		Short:         "Classifieds marketplace API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: serve,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, defaultEnvFile, "dotenv file loaded before reading the environment")
	flags.String(flagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(flagDatabaseURL, "", "postgres:// or sqlite:// database URL")
	flags.String(flagLedgerBackend, "", "credit ledger backend: gorm or pgx")
	flags.String(flagJWTSigningKey, "", "HS256 key used to verify bearer tokens (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer (default marketd)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagSweepSchedule, "", "cron expression of the expiration sweep (default hourly)")
	flags.Bool(flagSweepEnabled, true, "run the expiration sweep inside the server")
	flags.Int64(flagMaxPurchaseCredits, 0, "largest credit purchase accepted in one request")
	flags.Float64(flagRateLimitRPS, 0, "write requests per second allowed per user")
	flags.Int(flagRateLimitBurst, 0, "write request burst allowed per user")
	flags.String(flagMediaDir, "", "directory uploaded images are stored in")
	flags.Duration(flagShutdownTimeout, 0, "graceful shutdown timeout")

	cmd.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API", RunE: serve},
		newMigrateCommand(cfg),
		newSweepCommand(cfg),
		newTokenCommand(cfg),
	)
	return cmd
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Apply or roll back the Postgres schema",
		Annotations: map[string]string{annotationStorageOnly: "true"},
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newCLILogger()
			version, err := migrations.Up(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	})
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := cmd.Flags().GetInt(flagSteps)
			if err != nil {
				return err
			}
			logger := newCLILogger()
			version, err := migrations.Down(cfg.DatabaseURL, steps, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	downCmd.Flags().Int(flagSteps, 1, "number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)
	return migrateCmd
}

func newSweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale listings once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			expired, err := server.SweepOnce(ctx, *cfg, newCLILogger())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d listings expired\n", expired)
			return nil
		},
	}
}

func newTokenCommand(cfg *config.Config) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := cmd.Flags().GetString(flagRole)
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration(flagTTL)
			if err != nil {
				return err
			}
			authenticator, err := httpapi.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			token, err := authenticator.Issue(args[0], httpapi.Role(strings.ToUpper(role)), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().String(flagRole, string(httpapi.RoleUser), "USER, MODERATOR or ADMIN")
	tokenCmd.Flags().Duration(flagTTL, 24*time.Hour, "token lifetime")
	return tokenCmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.LedgerBackend = strings.TrimSpace(v.GetString(flagLedgerBackend))
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SweepSchedule = strings.TrimSpace(v.GetString(flagSweepSchedule))
	cfg.SweepEnabled = v.GetBool(flagSweepEnabled)
	cfg.MaxPurchaseCredits = v.GetInt64(flagMaxPurchaseCredits)
	cfg.RateLimitRPS = v.GetFloat64(flagRateLimitRPS)
	cfg.RateLimitBurst = v.GetInt(flagRateLimitBurst)
	cfg.MediaDir = strings.TrimSpace(v.GetString(flagMediaDir))
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)

	if storageOnly(cmd) {
		return cfg.ValidateStorage()
	}
	return cfg.Validate()
}

func storageOnly(cmd *cobra.Command) bool {
	for current := cmd; current != nil; current = current.Parent() {
		if current.Annotations[annotationStorageOnly] == "true" {
			return true
		}
	}
	return false
}

func newCLILogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
