package controllers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxBatchOrders      = 100
	maxWebhookBodySize  = 1 << 20
	webhookSecretHeader = "X-Webhook-Secret"
)

// AssignTrackingRequest represents the request body for shipping an order
type AssignTrackingRequest struct {
	TrackingNumber   string     `json:"tracking_number" binding:"required"`
	Courier          string     `json:"courier" binding:"required"`
	EstimatedArrival *time.Time `json:"estimated_arrival"`
}

// OverrideDeliveryStatusRequest represents an admin correction
type OverrideDeliveryStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// BatchTrackingRequest represents a multi-order tracking lookup
type BatchTrackingRequest struct {
	OrderIDs []uint `json:"order_ids" binding:"required,min=1"`
}

// SyncTrackingRequest represents a manual courier sync
type SyncTrackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	Courier        string `json:"courier" binding:"required"`
}

// AssignTracking handles POST /api/v1/orders/:id/tracking - the order's seller
// or an admin marks the order shipped
func AssignTracking(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var order models.Order
	if err := config.GetDB().WithContext(c.Request.Context()).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found")
			return
		}
		respondServiceError(c, err)
		return
	}
	if !user.IsAdmin() && order.SellerID != user.ID {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "Only the seller of this order can ship it")
		return
	}

	var req AssignTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	updated, err := services.GetTrackingService().AssignTracking(c.Request.Context(), services.AssignTrackingRequest{
		OrderID:          order.ID,
		TrackingNumber:   req.TrackingNumber,
		Courier:          req.Courier,
		EstimatedArrival: req.EstimatedArrival,
	}, services.UserActor(user))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    updated,
	})
}

// GetTrackingStatus handles GET /api/v1/orders/:id/tracking
func GetTrackingStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	status, err := services.GetTrackingService().GetTrackingStatus(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !canViewTracking(user, status) {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "You do not have permission to view this order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    status,
	})
}

// GetMultipleTrackingStatus handles POST /api/v1/tracking/status. Orders the
// caller may not see are reported as FORBIDDEN items.
func GetMultipleTrackingStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req BatchTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}
	if len(req.OrderIDs) > maxBatchOrders {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "At most 100 orders can be looked up at once")
		return
	}

	results := services.GetTrackingService().GetMultipleTrackingStatus(c.Request.Context(), req.OrderIDs)
	for i := range results {
		if results[i].Tracking != nil && !canViewTracking(user, results[i].Tracking) {
			results[i].Tracking = nil
			results[i].Error = &services.ResultError{Code: "FORBIDDEN", Message: "You do not have permission to view this order"}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    results,
	})
}

// OverrideDeliveryStatus handles PUT /api/v1/orders/:id/delivery-status (admins only)
func OverrideDeliveryStatus(c *gin.Context) {
	admin, ok := requireAdmin(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req OverrideDeliveryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	order, err := services.GetTrackingService().OverrideDeliveryStatus(c.Request.Context(), orderID,
		models.DeliveryStatus(req.Status), req.Reason, services.UserActor(admin))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    order,
	})
}

// SyncTracking handles POST /api/v1/tracking/sync (admins only)
func SyncTracking(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}

	var req SyncTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	result, err := services.GetTrackingService().SyncTracking(c.Request.Context(), req.TrackingNumber, req.Courier)
	if err != nil && result == nil {
		respondServiceError(c, err)
		return
	}
	if err != nil {
		zap.L().Warn("Tracking sync partially failed",
			zap.String("tracking_number", req.TrackingNumber), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// CourierWebhook handles POST /api/v1/webhooks/couriers/:courier. Couriers
// authenticate with a shared secret when one is configured.
func CourierWebhook(c *gin.Context) {
	courierName := c.Param("courier")
	courier, ok := config.GetConfig().Couriers.Lookup(courierName)
	if !ok {
		respondError(c, http.StatusNotFound, "UNKNOWN_COURIER", "Unknown courier "+courierName)
		return
	}

	if courier.WebhookSecret != "" {
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(courier.WebhookSecret)) != 1 {
			respondError(c, http.StatusUnauthorized, "INVALID_WEBHOOK_SECRET", "Webhook secret is missing or wrong")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Webhook payload is too large")
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_WEBHOOK_PAYLOAD", "Could not read webhook payload")
		return
	}

	result, err := services.GetTrackingService().HandleCourierWebhook(c.Request.Context(), courier.Name, body)
	if err != nil && result == nil {
		respondServiceError(c, err)
		return
	}
	if err != nil {
		zap.L().Warn("Courier webhook partially applied", zap.String("courier", courier.Name), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

func canViewTracking(user models.User, status *services.TrackingStatus) bool {
	return user.IsAdmin() || status.BuyerID == user.ID || status.SellerID == user.ID
}
