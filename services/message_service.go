package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kendall-kelly/atelier-market-api/models"
	"gorm.io/gorm"
)

const maxMessageLength = 4000

// MessageService stores support ticket chat
type MessageService struct {
	db *gorm.DB
}

// NewMessageService creates a message service
func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// CreateMessage stores a chat line sent by a user on a ticket
func (s *MessageService) CreateMessage(ctx context.Context, ticketID string, senderID uint, text string) (*models.Message, error) {
	ticketID = strings.TrimSpace(ticketID)
	text = strings.TrimSpace(text)
	if ticketID == "" {
		return nil, &ValidationError{Field: "ticket_id", Message: "is required"}
	}
	if text == "" {
		return nil, &ValidationError{Field: "text", Message: "is required"}
	}
	if len(text) > maxMessageLength {
		return nil, &ValidationError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", maxMessageLength)}
	}

	message := models.Message{TicketID: ticketID, SenderID: senderID, Text: text}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &message, nil
}

// ListMessages returns a ticket's messages oldest first
func (s *MessageService) ListMessages(ctx context.Context, ticketID string) ([]models.Message, error) {
	messages := []models.Message{}
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// SaveMessage stores a message received over the socket. data must be
// {"text": "..."}.
func (s *MessageService) SaveMessage(ctx context.Context, ticketID, senderID string, data json.RawMessage) (any, error) {
	id, err := strconv.ParseUint(senderID, 10, 64)
	if err != nil {
		return nil, &ValidationError{Field: "userId", Message: "is not a user id"}
	}
	var body struct {
		Text string `json:"text"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &ValidationError{Field: "data", Message: "must be an object with a text field"}
		}
	}
	return s.CreateMessage(ctx, ticketID, uint(id), body.Text)
}
