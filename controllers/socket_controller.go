package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/realtime"
	"go.uber.org/zap"
)

// SocketHandler handles GET /api/v1/ws. The socket is bound to the user the
// JWT resolves to; browsers pass the token as ?access_token=.
func SocketHandler(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		principal := realtime.Principal{UserID: userKey(user.ID), IsAdmin: user.IsAdmin()}
		if err := hub.ServeWS(c.Writer, c.Request, principal); err != nil {
			// the upgrader has already written the HTTP error
			zap.L().Info("Socket upgrade failed", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
}
