package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/classifieds/internal/config"
	"github.com/MarkoPoloResearchLab/classifieds/internal/httpapi"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	directory := t.TempDir()
	cfg := config.Config{
		DatabaseURL:   "sqlite://" + filepath.Join(directory, "market.db"),
		JWTSigningKey: "server-test-key",
		MediaDir:      filepath.Join(directory, "media"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return cfg
}

func send(t *testing.T, router http.Handler, method string, path string, token string, body any) map[string]any {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code >= 300 {
		t.Fatalf("%s %s: unexpected status %d: %s", method, path, recorder.Code, recorder.Body.String())
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestBuildWiresModerationNotifications(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	authenticator, err := httpapi.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	seller, err := authenticator.Issue("seller-1", httpapi.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	admin, err := authenticator.Issue("admin-1", httpapi.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	created := send(t, app.Router, http.MethodPost, "/products", seller, map[string]any{
		"title":       "Table en chêne",
		"description": "Table massive pour six personnes",
		"price":       "340",
		"location":    "Bordeaux",
	})
	productID := created["product"].(map[string]any)["id"].(string)
	send(t, app.Router, http.MethodPost, "/admin/products/moderate", admin, map[string]any{
		"productId": productID,
		"action":    "approve",
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		count := send(t, app.Router, http.MethodGet, "/notifications/unread-count", seller, nil)["count"].(float64)
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected approval notification, unread count %v", count)
		}
		time.Sleep(10 * time.Millisecond)
	}
	inbox := send(t, app.Router, http.MethodGet, "/notifications", seller, nil)["notifications"].([]any)
	if kind := inbox[0].(map[string]any)["type"]; kind != "product_approved" {
		t.Fatalf("expected product_approved notification, got %v", kind)
	}
}

func TestSweepOnceOnFreshDatabase(t *testing.T) {
	cfg := testConfig(t)
	expired, err := SweepOnce(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected nothing to expire, got %d", expired)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SweepEnabled = true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, nil) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not stop")
	}
}
