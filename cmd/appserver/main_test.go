package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/acton-service/acton-service/audit"
	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/logging"
	"github.com/acton-service/acton-service/infrastructure/metrics"
	"github.com/acton-service/acton-service/pool"
	"github.com/acton-service/acton-service/sharedstate"
)

func TestListenAddrUsesConfiguredPort(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Port: 9091}}
	if got, want := listenAddr(cfg), ":9091"; got != want {
		t.Fatalf("listenAddr() = %q, want %q", got, want)
	}
}

func TestListenAddrDefaultsWhenUnset(t *testing.T) {
	cfg := &config.Config{}
	if got, want := listenAddr(cfg), ":8080"; got != want {
		t.Fatalf("listenAddr() = %q, want %q", got, want)
	}
}

func TestAuditStorageDefaultsToMemoryWhenKindUnset(t *testing.T) {
	cfg := &config.Config{}
	storage := auditStorage(cfg, sharedstate.New())
	if _, ok := storage.(*audit.MemoryStorage); !ok {
		t.Fatalf("expected *audit.MemoryStorage, got %T", storage)
	}
}

func TestAuditStorageFileKindOpensFileStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Audit: config.AuditConfig{StorageKind: "file", StoragePath: filepath.Join(dir, "audit.log")}}
	storage := auditStorage(cfg, sharedstate.New())
	if storage == nil {
		t.Fatal("expected non-nil storage")
	}
	if _, err := os.Stat(filepath.Join(dir, "audit.log")); err != nil {
		t.Fatalf("expected audit file to be created: %v", err)
	}
}

func TestAuditStorageSQLFallsBackToMemoryWhenPoolNotConnected(t *testing.T) {
	cfg := &config.Config{Audit: config.AuditConfig{StorageKind: "sql"}}
	storage := auditStorage(cfg, sharedstate.New())
	if _, ok := storage.(*audit.MemoryStorage); !ok {
		t.Fatalf("expected fallback *audit.MemoryStorage, got %T", storage)
	}
}

func TestHealthAlwaysReturnsOK(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "acton-service"}, Database: &config.PoolConfig{}}
	state := sharedstate.New()
	databasePool := pool.New("database", config.PoolConfig{}, state.DB, nil, nil, nil, nil)

	router := mux.NewRouter()
	registerOpsRoutes(router, cfg, servicePools{database: databasePool})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200 (liveness must always succeed)", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /health body: %v", err)
	}
	if body.Status != "healthy" {
		t.Fatalf("expected status=healthy, got %q", body.Status)
	}
}

func TestReadyReturns503WithDependencyDetailWhenPoolNotConnected(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "acton-service"}, Database: &config.PoolConfig{}}
	state := sharedstate.New()
	databasePool := pool.New("database", config.PoolConfig{}, state.DB, nil, nil, nil, nil)

	router := mux.NewRouter()
	registerOpsRoutes(router, cfg, servicePools{database: databasePool})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d, want 503 when the database pool never connected", rec.Code)
	}

	var body struct {
		Ready        bool `json:"ready"`
		Dependencies map[string]struct {
			Healthy bool   `json:"healthy"`
			Message string `json:"message"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /ready body: %v", err)
	}
	if body.Ready {
		t.Fatal("expected ready=false")
	}
	dbDep, ok := body.Dependencies["database"]
	if !ok {
		t.Fatal("expected a \"database\" entry in dependencies")
	}
	if dbDep.Healthy {
		t.Fatal("expected dependencies.database.healthy=false")
	}
	if !strings.Contains(dbDep.Message, "initializing") && !strings.Contains(dbDep.Message, "Connection failed") {
		t.Fatalf("expected message to mention \"initializing\" or \"Connection failed\", got %q", dbDep.Message)
	}
}

func TestReadyReturns200WhenNoPoolsConfigured(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "acton-service"}}

	router := mux.NewRouter()
	registerOpsRoutes(router, cfg, servicePools{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d, want 200 with no configured pools", rec.Code)
	}
}

func TestReadyOptionalPoolFailureDoesNotBlockReadiness(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "acton-service"},
		Cache:   &config.PoolConfig{Optional: true},
	}
	state := sharedstate.New()
	cachePool := pool.New("cache", config.PoolConfig{Optional: true}, state.Cache, nil, nil, nil, nil)

	router := mux.NewRouter()
	registerOpsRoutes(router, cfg, servicePools{cache: cachePool})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d, want 200 when only an optional pool is down", rec.Code)
	}
}

func TestBuildMiddlewareChainAppliesDeprecationHeadersForVersionedRoute(t *testing.T) {
	cfg := &config.Config{
		Service:   config.ServiceConfig{Name: "acton-service"},
		RateLimit: config.RateLimitConfig{PerClientRPM: 1000},
		Middleware: config.MiddlewareConfig{
			DeprecatedVersions: []config.DeprecatedVersionConfig{
				{PathPrefix: "/api/v1", Version: "v1", Replacement: "v2"},
			},
		},
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	logger := logging.New("acton-service", "info", "text")
	handler := buildMiddlewareChain(inner, cfg, logger, metrics.NewWithRegistry("acton-service-test", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Deprecation"); got != `version="v1"` {
		t.Fatalf("Deprecation header = %q, want version=\"v1\"", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v2/rooms", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if got := rec2.Header().Get("Deprecation"); got != "" {
		t.Fatalf("expected no Deprecation header on /api/v2, got %q", got)
	}
}

func TestBuildMiddlewareChainWithoutTokenValidatorPassesThrough(t *testing.T) {
	cfg := &config.Config{
		Service:    config.ServiceConfig{Name: "acton-service"},
		RateLimit:  config.RateLimitConfig{PerClientRPM: 1000},
		Middleware: config.MiddlewareConfig{},
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	logger := logging.New("acton-service", "info", "text")
	handler := buildMiddlewareChain(inner, cfg, logger, metrics.NewWithRegistry("acton-service-test", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with no token validator configured, got %d", rec.Code)
	}
}
