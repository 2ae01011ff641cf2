// Package server assembles the marketplace services and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/internal/config"
	"github.com/MarkoPoloResearchLab/classifieds/internal/database"
	"github.com/MarkoPoloResearchLab/classifieds/internal/httpapi"
	"github.com/MarkoPoloResearchLab/classifieds/internal/media"
	"github.com/MarkoPoloResearchLab/classifieds/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/classifieds/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/classifieds/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/classifieds/internal/sweeper"
	"github.com/MarkoPoloResearchLab/classifieds/internal/telemetry"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/boost"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/moderation"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/notify"
)

// App is a fully wired marketplace.
type App struct {
	Router    *gin.Engine
	Scheduler *sweeper.Scheduler
	Listings  *listing.Service

	logger  *zap.Logger
	closers []func()
}

// Close stops background work and releases connections in reverse order of acquisition.
func (app *App) Close() {
	for index := len(app.closers) - 1; index >= 0; index-- {
		app.closers[index]()
	}
	app.closers = nil
}

// Build opens storage and wires every service behind the router.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{logger: logger}
	success := false
	defer func() {
		if !success {
			app.Close()
		}
	}()

	if config.IsPostgresURL(cfg.DatabaseURL) {
		version, err := migrations.Up(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema ready", zap.Uint("version", version))
	}
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	app.closers = append(app.closers, func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("database close failed", zap.Error(closeErr))
		}
	})
	if err := database.PrepareSchema(db); err != nil {
		return nil, err
	}

	ledgerStore, err := app.ledgerStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	bus := events.NewBus(logger)
	app.closers = append(app.closers, bus.Close)

	unixClock := func() int64 { return time.Now().UTC().Unix() }
	clock := func() time.Time { return time.Now().UTC() }

	notifications, err := notify.NewService(gormstore.NewNotificationStore(db.Gorm), clock,
		notify.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("notify service init: %w", err)
	}
	bus.Subscribe(notifications.Handle)

	ledgerService, err := ledger.NewService(ledgerStore, unixClock,
		ledger.WithOperationLogger(telemetry.NewOperationLogger(logger, metrics)),
		ledger.WithPublisher(bus),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	listingService, err := listing.NewService(gormstore.NewListingStore(db.Gorm), clock,
		listing.WithPublisher(bus),
		listing.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("listing service init: %w", err)
	}
	policy, err := boost.NewPolicy(ledgerService, listingService, clock,
		boost.WithPublisher(bus),
		boost.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("boost policy init: %w", err)
	}
	gateway, err := moderation.NewGateway(listingService,
		moderation.WithPublisher(bus),
		moderation.WithLogger(logger),
		moderation.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("moderation gateway init: %w", err)
	}
	scheduler, err := sweeper.New(listingService, cfg.SweepSchedule,
		sweeper.WithLogger(logger),
		sweeper.WithRecorder(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("sweeper init: %w", err)
	}
	mediaStore, err := media.NewStore(cfg.MediaDir, httpapi.MediaRoute)
	if err != nil {
		return nil, err
	}
	authenticator, err := httpapi.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}

	router, err := httpapi.NewRouter(httpapi.Dependencies{
		Logger:             logger,
		Ledger:             ledgerService,
		Listings:           listingService,
		Boosts:             policy,
		Moderation:         gateway,
		Notifications:      notifications,
		Sweeper:            scheduler,
		Media:              mediaStore,
		Metrics:            metrics,
		Authenticator:      authenticator,
		RateLimiter:        httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
		AllowedOrigins:     cfg.AllowedOrigins,
		MaxPurchaseCredits: cfg.MaxPurchaseCredits,
	})
	if err != nil {
		return nil, err
	}

	app.Router = router
	app.Scheduler = scheduler
	app.Listings = listingService
	success = true
	return app, nil
}

func (app *App) ledgerStore(ctx context.Context, cfg config.Config, db *database.Database) (ledger.Store, error) {
	if cfg.LedgerBackend != config.LedgerBackendPgx {
		return gormstore.NewLedgerStore(db.Gorm), nil
	}
	pool, err := database.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)
	app.logger.Info("credit ledger on pgx pool")
	return pgstore.New(pool), nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.SweepEnabled {
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
		defer app.Scheduler.Stop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// SweepOnce runs a single expiration pass outside the server.
func SweepOnce(ctx context.Context, cfg config.Config, logger *zap.Logger) (int, error) {
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer app.Close()
	return app.Scheduler.RunOnce(ctx)
}
