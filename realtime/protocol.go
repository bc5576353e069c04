package realtime

import (
	"encoding/json"
	"time"
)

// Inbound message types
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeTicketUpdate = "ticket_update"
	TypeMessage      = "message"
	TypeHeartbeat    = "heartbeat"
	TypeAdminAction  = "admin_action"
)

// Outbound message types
const (
	TypeSubscribed        = "subscribed"
	TypeChatMessage       = "chat_message"
	TypeAdminNotification = "admin_notification"
	TypeNotification      = "notification"
	TypeSLABreach         = "sla_breach"
	TypeEscalation        = "escalation"
	TypeError             = "error"
)

// AdminKey is the reserved user key every admin connection is also registered under
const AdminKey = "admin"

// CloseUnauthorized is sent when a client claims an identity it does not hold
const CloseUnauthorized = 4001

// Envelope is the JSON frame exchanged with socket clients
type Envelope struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	TicketID  string          `json:"ticketId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// ErrorData is the payload of an error envelope
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ, userID, ticketID string, data any, now time.Time) (Envelope, error) {
	env := Envelope{Type: typ, UserID: userID, TicketID: ticketID, Timestamp: &now}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}
