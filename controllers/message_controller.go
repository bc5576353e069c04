package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/services"
)

// ChatBroadcaster pushes stored chat lines to a ticket's live subscribers
type ChatBroadcaster interface {
	BroadcastChatMessage(ticketID, senderID string, data any)
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage handles POST /api/v1/tickets/:ticketId/messages. The stored
// message is also fanned out to the ticket's socket subscribers.
func SendMessage(broadcaster ChatBroadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.PureJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid request data",
					"details": err.Error(),
				},
			})
			return
		}

		ticketID := c.Param("ticketId")
		message, err := services.GetMessageService().CreateMessage(c.Request.Context(), ticketID, user.ID, req.Text)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		if broadcaster != nil {
			broadcaster.BroadcastChatMessage(message.TicketID, userKey(user.ID), message)
		}

		c.PureJSON(http.StatusCreated, gin.H{
			"success": true,
			"data":    message,
		})
	}
}

// ListMessages handles GET /api/v1/tickets/:ticketId/messages - oldest first
func ListMessages(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	messages, err := services.GetMessageService().ListMessages(c.Request.Context(), c.Param("ticketId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    messages,
	})
}
