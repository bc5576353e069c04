package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/middleware"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/services"
	"go.uber.org/zap"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps the typed service errors to HTTP statuses
func respondServiceError(c *gin.Context, err error) {
	var (
		notFound   *services.NotFoundError
		unknown    *services.UnknownCourierError
		payload    *services.WebhookPayloadError
		validation *services.ValidationError
		state      *services.InvalidStateError
		syncErr    *services.SyncError
	)
	switch {
	case errors.As(err, &notFound):
		respondError(c, http.StatusNotFound, notFound.Code(), err.Error())
	case errors.As(err, &unknown):
		respondError(c, http.StatusBadRequest, unknown.Code(), err.Error())
	case errors.As(err, &payload):
		respondError(c, http.StatusBadRequest, payload.Code(), err.Error())
	case errors.As(err, &validation):
		respondError(c, http.StatusBadRequest, validation.Code(), err.Error())
	case errors.As(err, &state):
		respondError(c, http.StatusConflict, state.Code(), err.Error())
	case errors.As(err, &syncErr):
		respondError(c, http.StatusBadGateway, syncErr.Code(), err.Error())
	default:
		zap.L().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

// currentUser resolves the JWT subject to a marketplace user. It writes the
// error response itself and reports whether the handler may continue.
func currentUser(c *gin.Context) (models.User, bool) {
	var user models.User

	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user information")
		return user, false
	}

	if err := config.GetDB().WithContext(c.Request.Context()).Where("auth0_id = ?", auth0ID).First(&user).Error; err != nil {
		respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "User profile not found. Please create a profile first.")
		return user, false
	}
	return user, true
}

// requireAdmin resolves the current user and rejects non-admins
func requireAdmin(c *gin.Context) (models.User, bool) {
	user, ok := currentUser(c)
	if !ok {
		return user, false
	}
	if !user.IsAdmin() {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "Only admins can perform this action")
		return user, false
	}
	return user, true
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func userKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
