package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/middleware"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/services"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const webhookSecret = "s3cret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err, "Failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...), "Failed to migrate test database")
	config.SetDB(db)
	return db
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// mockAuthMiddleware sets up the context the way EnsureValidToken does
func mockAuthMiddleware(auth0ID, role, accessToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", auth0ID)
		c.Set("access_token", accessToken)
		c.Set("validated_claims", &validator.ValidatedClaims{
			CustomClaims: &middleware.CustomClaims{Role: role},
		})
		c.Next()
	}
}

// asUser authenticates requests as an existing user
func asUser(u models.User) gin.HandlerFunc {
	return mockAuthMiddleware(u.Auth0ID, u.Role, "token-"+u.Auth0ID)
}

type fixtures struct {
	buyer   models.User
	seller  models.User
	admin   models.User
	courier *stubCourier
}

// setupTrackingFixtures wires the services against a stub courier API
func setupTrackingFixtures(t *testing.T, db *gorm.DB) fixtures {
	t.Helper()

	couriers := config.NewCourierRegistry(
		config.CourierConfig{Name: "ups", TrackingURLPattern: "https://www.ups.com/track?tracknum={tracking}",
			WebhookSecret: webhookSecret},
		config.CourierConfig{Name: "dhl", TrackingURLPattern: "https://www.dhl.com/track?AWB={tracking}"},
	)
	original := config.GetConfig()
	t.Cleanup(func() { config.SetConfig(original) })
	config.SetConfig(&config.Config{Couriers: couriers, TrackingSyncMode: config.SyncModeBestEffort})

	stub := &stubCourier{responses: map[string]string{}}
	services.InitTrackingService(services.NewTrackingService(db, couriers, stub, zap.NewNop()))
	services.InitAnalyticsService(services.NewAnalyticsService(db))
	services.InitMessageService(services.NewMessageService(db))

	f := fixtures{
		buyer:   models.User{Auth0ID: "auth0|buyer", Name: "Bea Buyer", Email: "buyer@example.com", Role: models.RoleBuyer},
		seller:  models.User{Auth0ID: "auth0|seller", Name: "Sam Seller", Email: "seller@example.com", Role: models.RoleSeller},
		admin:   models.User{Auth0ID: "auth0|admin", Name: "Ada Admin", Email: "admin@example.com", Role: models.RoleAdmin},
		courier: stub,
	}
	require.NoError(t, db.Create(&f.buyer).Error)
	require.NoError(t, db.Create(&f.seller).Error)
	require.NoError(t, db.Create(&f.admin).Error)
	return f
}

func (f fixtures) createOrder(t *testing.T, db *gorm.DB, trackingNumber, courier string) models.Order {
	t.Helper()
	order := models.Order{
		BuyerID:         f.buyer.ID,
		SellerID:        f.seller.ID,
		ProductCategory: "dresses",
		OrderDate:       time.Now().Add(-72 * time.Hour),
		OrderStatus:     models.OrderConfirmed,
		DeliveryStatus:  models.DeliveryNotShipped,
		AmountCents:     12900,
	}
	if trackingNumber != "" {
		shipped := time.Now().Add(-24 * time.Hour)
		order.TrackingNumber = &trackingNumber
		order.Courier = &courier
		order.OrderStatus = models.OrderShipped
		order.DeliveryStatus = models.DeliveryInTransit
		order.ShippedAt = &shipped
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

// stubCourier answers with a fixed raw status per tracking number
type stubCourier struct {
	mu        sync.Mutex
	responses map[string]string
}

func (s *stubCourier) respond(trackingNumber, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[trackingNumber] = status
}

func (s *stubCourier) FetchTracking(ctx context.Context, courier config.CourierConfig, trackingNumber string) (*services.TrackingData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.responses[trackingNumber]
	if !ok {
		return nil, &services.CourierAPIError{StatusCode: http.StatusServiceUnavailable, Body: "unavailable"}
	}
	return &services.TrackingData{
		Status:         status,
		DeliveryStatus: services.MapCourierStatusToDeliveryStatus(status),
		Events:         []services.TrackingEvent{},
	}, nil
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), "Response body: %s", w.Body.String())
	return w, response
}

func errorCode(response map[string]any) string {
	errorData, _ := response["error"].(map[string]any)
	code, _ := errorData["code"].(string)
	return code
}
