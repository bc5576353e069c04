package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/realtime"
	"github.com/kendall-kelly/atelier-market-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		GoEnv:              "test",
		Auth0Domain:        "atelier-test.eu.auth0.com",
		Auth0Audience:      "https://api.atelier.test",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		Couriers:           config.NewCourierRegistry(config.CourierConfig{Name: "ups"}),
		TrackingSyncMode:   config.SyncModeBestEffort,
	}
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	config.SetDB(db)

	cfg := testConfig()
	config.SetConfig(cfg)
	services.InitTrackingService(services.NewTrackingService(db, cfg.Couriers,
		services.NewHTTPCourierClient(cfg.CourierTimeout), zap.NewNop()))

	return setupRouter(cfg, realtime.NewHub(zap.NewNop()))
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	healthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response, 2)
	assert.Equal(t, true, response["success"])
	assert.Equal(t, "Atelier Market API is running", response["message"])
}

func TestReadinessCheck(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())
	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "connected", response["database"])
	assert.Equal(t, map[string]any{"users": float64(0), "connections": float64(0), "tickets": float64(0)},
		response["realtime"])
}

func TestRoutes(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{"Health only allows GET", http.MethodPost, "/health", "", http.StatusNotFound, ""},
		{"Metrics are exposed", http.MethodGet, "/metrics", "", http.StatusOK, "atelier_http_requests_total"},
		{"Profile requires a token", http.MethodGet, "/api/v1/users/me", "", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"Tracking requires a token", http.MethodGet, "/api/v1/orders/1/tracking", "", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"Socket requires a token", http.MethodGet, "/api/v1/ws", "", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"Webhook skips JWT auth", http.MethodPost, "/api/v1/webhooks/couriers/pigeon", `{}`, http.StatusNotFound, "UNKNOWN_COURIER"},
		{"Webhook validates payload", http.MethodPost, "/api/v1/webhooks/couriers/ups", `{"status":"Delivered"}`,
			http.StatusBadRequest, "INVALID_WEBHOOK_PAYLOAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Response body: %s", w.Body.String())
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://atelier.example"})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"Allowed origin", "https://atelier.example", true},
		{"No origin header", "", true},
		{"Foreign origin", "https://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(req))
		})
	}
}
