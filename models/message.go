package models

import (
	"time"
)

// Message is a chat line on a support ticket conversation
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  string    `gorm:"not null;index" json:"ticket_id"`
	SenderID  uint      `gorm:"not null;index" json:"sender_id"`
	Sender    User      `gorm:"foreignKey:SenderID" json:"-"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

// All returns every model managed by this service, for migrations
func All() []any {
	return []any{&User{}, &Order{}, &OrderStateTransition{}, &Notification{}, &Message{}}
}
