// Package httpapi exposes the marketplace over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/internal/media"
	"github.com/MarkoPoloResearchLab/classifieds/internal/telemetry"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/boost"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/moderation"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/notify"
)

// MediaRoute is where uploaded images are served from.
const MediaRoute = "/media"

var ErrInvalidRouterConfig = errors.New("invalid router config")

// Sweeper runs one expiration pass on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// Dependencies are the services behind the HTTP surface.
type Dependencies struct {
	Logger             *zap.Logger
	Ledger             *ledger.Service
	Listings           *listing.Service
	Boosts             *boost.Policy
	Moderation         *moderation.Gateway
	Notifications      *notify.Service
	Sweeper            Sweeper
	Media              *media.Store
	Metrics            *telemetry.Metrics
	Authenticator      *Authenticator
	RateLimiter        *RateLimiter
	AllowedOrigins     []string
	MaxPurchaseCredits int64
}

func (deps Dependencies) validate() error {
	switch {
	case deps.Ledger == nil:
		return fmt.Errorf("%w: ledger is nil", ErrInvalidRouterConfig)
	case deps.Listings == nil:
		return fmt.Errorf("%w: listings is nil", ErrInvalidRouterConfig)
	case deps.Boosts == nil:
		return fmt.Errorf("%w: boost policy is nil", ErrInvalidRouterConfig)
	case deps.Moderation == nil:
		return fmt.Errorf("%w: moderation gateway is nil", ErrInvalidRouterConfig)
	case deps.Notifications == nil:
		return fmt.Errorf("%w: notifications is nil", ErrInvalidRouterConfig)
	case deps.Sweeper == nil:
		return fmt.Errorf("%w: sweeper is nil", ErrInvalidRouterConfig)
	case deps.Media == nil:
		return fmt.Errorf("%w: media store is nil", ErrInvalidRouterConfig)
	case deps.Authenticator == nil:
		return fmt.Errorf("%w: authenticator is nil", ErrInvalidRouterConfig)
	case deps.MaxPurchaseCredits <= 0:
		return fmt.Errorf("%w: max purchase credits must be positive", ErrInvalidRouterConfig)
	}
	return nil
}

// NewRouter builds the gin engine with every marketplace route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = NewRateLimiter(5, 10, deps.Logger)
	}
	handler := &httpHandler{
		logger:             deps.Logger,
		ledger:             deps.Ledger,
		listings:           deps.Listings,
		boosts:             deps.Boosts,
		moderation:         deps.Moderation,
		notifications:      deps.Notifications,
		sweeper:            deps.Sweeper,
		media:              deps.Media,
		maxPurchaseCredits: deps.MaxPurchaseCredits,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(deps.Metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept", idempotencyHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.Static(MediaRoute, deps.Media.Root())

	authenticated := deps.Authenticator.Middleware()
	limited := deps.RateLimiter.Middleware()
	staff := requireRoles(RoleAdmin, RoleModerator)
	admin := requireRoles(RoleAdmin)

	credits := router.Group("/credits")
	credits.GET("/packages", handler.handlePackages)
	credits.GET("/balance", authenticated, handler.handleBalance)
	credits.GET("/history", authenticated, handler.handleHistory)
	credits.POST("/purchase", authenticated, limited, handler.handlePurchase)
	credits.POST("/boost", authenticated, limited, handler.handleBoost)
	credits.POST("/earn", authenticated, admin, limited, handler.handleEarn)
	credits.POST("/refund", authenticated, admin, limited, handler.handleRefund)

	products := router.Group("/products")
	products.GET("", handler.handleListProducts)
	products.GET("/renewable", authenticated, handler.handleRenewable)
	products.GET("/mine", authenticated, handler.handleMyProducts)
	products.GET("/:id", handler.handleGetProduct)
	products.POST("", authenticated, limited, handler.handleCreateProduct)
	products.PUT("/:id", authenticated, limited, handler.handleUpdateProduct)
	products.DELETE("/:id", authenticated, limited, handler.handleDeleteProduct)
	products.POST("/:id/renew", authenticated, limited, handler.handleRenewProduct)
	products.POST("/:id/sold", authenticated, limited, handler.handleMarkSold)
	products.POST("/auto-expire", authenticated, admin, handler.handleAutoExpire)

	adminGroup := router.Group("/admin", authenticated, staff)
	adminGroup.GET("/products/pending", handler.handlePendingProducts)
	adminGroup.GET("/stats", handler.handleStats)
	adminGroup.POST("/products/moderate", limited, handler.handleModerate)

	notifications := router.Group("/notifications", authenticated)
	notifications.GET("", handler.handleListNotifications)
	notifications.GET("/unread-count", handler.handleUnreadCount)
	notifications.PUT("/mark-read", handler.handleMarkRead)
	notifications.PUT("/mark-all-read", handler.handleMarkAllRead)
	notifications.DELETE("/:id", handler.handleDeleteNotification)
	notifications.POST("/send", staff, limited, handler.handleSendNotification)

	return router, nil
}

type httpHandler struct {
	logger             *zap.Logger
	ledger             *ledger.Service
	listings           *listing.Service
	boosts             *boost.Policy
	moderation         *moderation.Gateway
	notifications      *notify.Service
	sweeper            Sweeper
	media              *media.Store
	maxPurchaseCredits int64
}
