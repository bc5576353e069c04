package controllers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedNotifications(t *testing.T, db *gorm.DB, f fixtures) []models.Notification {
	t.Helper()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	notifications := []models.Notification{
		{BuyerID: f.buyer.ID, SellerID: f.seller.ID, OrderID: 1, RecipientRole: models.RoleBuyer,
			Type: models.NotificationOrderShipped, Message: "shipped", CreatedAt: base},
		{BuyerID: f.buyer.ID, SellerID: f.seller.ID, OrderID: 1, RecipientRole: models.RoleBuyer,
			Type: models.NotificationDeliveryConfirmed, Message: "delivered", CreatedAt: base.Add(time.Hour), IsRead: true},
		{BuyerID: f.buyer.ID, SellerID: f.seller.ID, OrderID: 1, RecipientRole: models.RoleSeller,
			Type: models.NotificationDeliveryConfirmed, Message: "your parcel arrived", CreatedAt: base.Add(time.Hour)},
		{BuyerID: f.buyer.ID, SellerID: f.seller.ID, OrderID: 1, RecipientRole: models.RoleAdmin,
			Type: models.NotificationDeliveryCorrection, Message: "status corrected", CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range notifications {
		require.NoError(t, db.Create(&notifications[i]).Error)
	}
	return notifications
}

func TestListNotifications(t *testing.T) {
	db := setupTestDB(t)
	f := setupTrackingFixtures(t, db)
	seedNotifications(t, db, f)

	tests := []struct {
		name          string
		as            models.User
		query         string
		expectedTexts []string
	}{
		{"Buyer feed newest first", f.buyer, "", []string{"delivered", "shipped"}},
		{"Buyer unread only", f.buyer, "?unread=true", []string{"shipped"}},
		{"Buyer with limit", f.buyer, "?limit=1", []string{"delivered"}},
		{"Seller feed", f.seller, "", []string{"your parcel arrived"}},
		{"Admin feed", f.admin, "", []string{"status corrected"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.GET("/notifications", asUser(tt.as), ListNotifications)

			w, response := doJSON(t, router, http.MethodGet, "/notifications"+tt.query, nil)

			require.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())
			data := response["data"].([]any)
			texts := make([]string, 0, len(data))
			for _, item := range data {
				texts = append(texts, item.(map[string]any)["message"].(string))
			}
			assert.Equal(t, tt.expectedTexts, texts)
		})
	}

	t.Run("Invalid limit", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/notifications", asUser(f.buyer), ListNotifications)

		w, response := doJSON(t, router, http.MethodGet, "/notifications?limit=0", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_LIMIT", errorCode(response))
	})
}

func TestListNotifications_DegradedSyncReachesAdmins(t *testing.T) {
	db := setupTestDB(t)
	f := setupTrackingFixtures(t, db)
	order := f.createOrder(t, db, "1Z503", "ups")

	syncRouter := setupTestRouter()
	syncRouter.POST("/tracking/sync", asUser(f.admin), SyncTracking)
	w, response := doJSON(t, syncRouter, http.MethodPost, "/tracking/sync",
		map[string]string{"tracking_number": "1Z503", "courier": "ups"})
	require.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())
	require.Equal(t, true, response["data"].(map[string]any)["degraded"])

	feed := func(u models.User) []any {
		router := setupTestRouter()
		router.GET("/notifications", asUser(u), ListNotifications)
		w, response := doJSON(t, router, http.MethodGet, "/notifications", nil)
		require.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())
		return response["data"].([]any)
	}

	adminFeed := feed(f.admin)
	require.Len(t, adminFeed, 1)
	alert := adminFeed[0].(map[string]any)
	assert.Equal(t, models.NotificationSyncDegraded, alert["type"])
	assert.Equal(t, float64(order.ID), alert["order_id"])
	assert.Contains(t, alert["message"], "UPS")

	assert.Empty(t, feed(f.buyer))
}

func TestListNotifications_SellerHearsAboutDelivery(t *testing.T) {
	db := setupTestDB(t)
	f := setupTrackingFixtures(t, db)
	order := f.createOrder(t, db, "1Z200", "ups")
	f.courier.respond("1Z200", "Delivered")

	syncRouter := setupTestRouter()
	syncRouter.POST("/tracking/sync", asUser(f.admin), SyncTracking)
	w, _ := doJSON(t, syncRouter, http.MethodPost, "/tracking/sync",
		map[string]string{"tracking_number": "1Z200", "courier": "ups"})
	require.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())

	router := setupTestRouter()
	router.GET("/notifications", asUser(f.seller), ListNotifications)
	w, response := doJSON(t, router, http.MethodGet, "/notifications", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].([]any)
	require.Len(t, data, 1)
	notice := data[0].(map[string]any)
	assert.Equal(t, models.NotificationSaleDelivered, notice["type"])
	assert.Equal(t, float64(order.ID), notice["order_id"])
}

func TestMarkNotificationRead(t *testing.T) {
	db := setupTestDB(t)
	f := setupTrackingFixtures(t, db)
	seeded := seedNotifications(t, db, f)
	buyerUnread, sellerNote, adminNote := seeded[0], seeded[2], seeded[3]

	tests := []struct {
		name           string
		as             models.User
		id             uint
		expectedStatus int
	}{
		{"Seller cannot read buyer notification", f.seller, buyerUnread.ID, http.StatusForbidden},
		{"Buyer marks own notification", f.buyer, buyerUnread.ID, http.StatusOK},
		{"Marking twice is a no-op", f.buyer, buyerUnread.ID, http.StatusOK},
		{"Seller marks own notification", f.seller, sellerNote.ID, http.StatusOK},
		{"Buyer cannot read admin notification", f.buyer, adminNote.ID, http.StatusForbidden},
		{"Admin marks admin notification", f.admin, adminNote.ID, http.StatusOK},
		{"Missing notification", f.admin, 999, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.PATCH("/notifications/:id/read", asUser(tt.as), MarkNotificationRead)

			w, _ := doJSON(t, router, http.MethodPatch, fmt.Sprintf("/notifications/%d/read", tt.id), nil)

			assert.Equal(t, tt.expectedStatus, w.Code, "Response body: %s", w.Body.String())
			if tt.expectedStatus == http.StatusOK {
				var stored models.Notification
				require.NoError(t, db.First(&stored, tt.id).Error)
				assert.True(t, stored.IsRead)
			}
		})
	}
}
