package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err, "Failed to connect to test database")

	// every pooled connection to :memory: would be a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...), "Failed to migrate test database")
	return db
}

func testCouriers() *config.CourierRegistry {
	return config.NewCourierRegistry(
		config.CourierConfig{Name: "ups", APIURL: "http://ups.test/track", APIKey: "ups-key",
			TrackingURLPattern: "https://www.ups.com/track?tracknum={tracking}", WebhookSecret: "s3cret"},
		config.CourierConfig{Name: "dhl", APIURL: "http://dhl.test/track",
			TrackingURLPattern: "https://www.dhl.com/en/express/tracking.html?AWB={tracking}"},
	)
}

type fakeCourierClient struct {
	mu        sync.Mutex
	responses map[string]*TrackingData
	err       error
	calls     int
}

func newFakeCourierClient() *fakeCourierClient {
	return &fakeCourierClient{responses: make(map[string]*TrackingData)}
}

func (f *fakeCourierClient) respond(trackingNumber, status string, events ...TrackingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[trackingNumber] = &TrackingData{
		Status:         status,
		DeliveryStatus: MapCourierStatusToDeliveryStatus(status),
		Events:         events,
	}
}

func (f *fakeCourierClient) FetchTracking(ctx context.Context, courier config.CourierConfig, trackingNumber string) (*TrackingData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.responses[trackingNumber]
	if !ok {
		return nil, &CourierAPIError{StatusCode: 404, Body: "not found"}
	}
	copied := *data
	return &copied, nil
}

type pushedEvent struct {
	userID string
	data   any
}

type fakeNotifier struct {
	mu     sync.Mutex
	users  []pushedEvent
	admins []any
}

func (f *fakeNotifier) NotifyUser(userID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, pushedEvent{userID: userID, data: data})
}

func (f *fakeNotifier) NotifyAdmins(data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins = append(f.admins, data)
}

func createUsers(t *testing.T, db *gorm.DB) (buyer, seller models.User) {
	t.Helper()
	buyer = models.User{Auth0ID: "auth0|buyer", Name: "Bea Buyer", Email: "buyer@example.com", Role: models.RoleBuyer}
	seller = models.User{Auth0ID: "auth0|seller", Name: "Sam Seller", Email: "seller@example.com", Role: models.RoleSeller}
	require.NoError(t, db.Create(&buyer).Error)
	require.NoError(t, db.Create(&seller).Error)
	return buyer, seller
}

func createOrder(t *testing.T, db *gorm.DB, buyer, seller models.User, mutate func(*models.Order)) models.Order {
	t.Helper()
	order := models.Order{
		BuyerID:         buyer.ID,
		SellerID:        seller.ID,
		ProductCategory: "dresses",
		OrderDate:       testNow.Add(-72 * time.Hour),
		OrderStatus:     models.OrderConfirmed,
		DeliveryStatus:  models.DeliveryNotShipped,
		AmountCents:     12900,
	}
	if mutate != nil {
		mutate(&order)
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func withTracking(trackingNumber, courier string) func(*models.Order) {
	return func(o *models.Order) {
		o.TrackingNumber = &trackingNumber
		o.Courier = &courier
		o.OrderStatus = models.OrderShipped
		o.DeliveryStatus = models.DeliveryInTransit
		shipped := testNow.Add(-48 * time.Hour)
		o.ShippedAt = &shipped
	}
}

func newTestTrackingService(db *gorm.DB, client CourierClient, opts ...TrackingOption) *TrackingService {
	opts = append([]TrackingOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewTrackingService(db, testCouriers(), client, zap.NewNop(), opts...)
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
