package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/services"
)

// GetDeliveryEstimate handles GET /api/v1/analytics/delivery-estimate?category=&shipped_at=
func GetDeliveryEstimate(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	category := strings.TrimSpace(c.Query("category"))
	if category == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "category is required")
		return
	}

	shippedAt := time.Now()
	if raw := c.Query("shipped_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shipped_at must be an RFC3339 timestamp")
			return
		}
		shippedAt = t
	}

	estimate, err := services.GetAnalyticsService().EstimateDelivery(c.Request.Context(), category, shippedAt)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    estimate,
	})
}

// GetChurnRisk handles GET /api/v1/analytics/churn/:buyerId (admins only)
func GetChurnRisk(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}
	buyerID, ok := parseIDParam(c, "buyerId")
	if !ok {
		return
	}

	risk, err := services.GetAnalyticsService().ChurnRisk(c.Request.Context(), buyerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    risk,
	})
}
