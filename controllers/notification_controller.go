package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/models"
	"gorm.io/gorm"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// ListNotifications handles GET /api/v1/notifications - the caller's feed,
// newest first. Buyers and sellers see their own; admins see admin notices.
func ListNotifications(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNotificationLimit {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	query := config.GetDB().WithContext(c.Request.Context()).Model(&models.Notification{})
	switch user.Role {
	case models.RoleAdmin:
		query = query.Where("recipient_role = ?", models.RoleAdmin)
	case models.RoleSeller:
		query = query.Where("recipient_role = ? AND seller_id = ?", models.RoleSeller, user.ID)
	default:
		query = query.Where("recipient_role = ? AND buyer_id = ?", models.RoleBuyer, user.ID)
	}
	if c.Query("unread") == "true" {
		query = query.Where("is_read = ?", false)
	}

	notifications := []models.Notification{}
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to fetch notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    notifications,
	})
}

// MarkNotificationRead handles PATCH /api/v1/notifications/:id/read
func MarkNotificationRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	db := config.GetDB().WithContext(c.Request.Context())
	var notification models.Notification
	if err := db.First(&notification, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "Notification not found")
			return
		}
		respondServiceError(c, err)
		return
	}
	if !isRecipient(user, notification) {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "You do not have permission to update this notification")
		return
	}

	if !notification.IsRead {
		if err := db.Model(&notification).Update("is_read", true).Error; err != nil {
			respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update notification")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    notification,
	})
}

func isRecipient(user models.User, n models.Notification) bool {
	if n.RecipientRole != user.Role {
		return false
	}
	if recipient, ok := n.RecipientID(); ok {
		return recipient == user.ID
	}
	return user.IsAdmin()
}
