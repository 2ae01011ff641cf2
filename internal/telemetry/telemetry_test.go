package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

func TestGinMiddlewareLabelsByRouteTemplate(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	router := gin.New()
	router.Use(metrics.GinMiddleware())
	router.GET("/products/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/products/a", "/products/b", "/missing"} {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodGet, "/products/:id", "204")); got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()
	metrics := NewMetrics()
	metrics.RecordSweep(3, 20*time.Millisecond, nil)
	metrics.RecordSweep(0, time.Millisecond, errors.New("db down"))

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()
	for _, want := range []string{
		"marketd_sweeper_expired_listings_total 3",
		`marketd_sweeper_runs_total{status="error"} 1`,
		`marketd_sweeper_runs_total{status="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestOperationLoggerLogsAndCounts(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics()
	operationLogger := NewOperationLogger(zap.New(core), metrics)
	userID, err := ledger.NewUserID("user-1")
	if err != nil {
		t.Fatalf("user id: %v", err)
	}

	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "purchase", UserID: userID, Amount: 10, Status: "ok"})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "spend", UserID: userID, Amount: 30, Status: "error", Error: ledger.ErrInsufficientBalance})

	if logs.Len() != 2 {
		t.Fatalf("expected 2 log entries, got %d", logs.Len())
	}
	failed := logs.FilterMessage("ledger operation failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning for the failed spend, got %+v", failed)
	}
	if got := testutil.ToFloat64(metrics.ledgerOperations.WithLabelValues("spend", "error")); got != 1 {
		t.Fatalf("expected failed spend counted once, got %v", got)
	}
}
