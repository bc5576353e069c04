package models

import "time"

// Notification types
const (
	NotificationOrderShipped       = "order_shipped"
	NotificationDeliveryUpdate     = "delivery_update"
	NotificationDeliveryConfirmed  = "delivery_confirmed"
	NotificationDeliveryCorrection = "delivery_status_corrected"
	NotificationSaleDelivered      = "sale_delivered"
	NotificationSyncDegraded       = "courier_sync_degraded"
)

// Notification is a feed entry read by the buyer, seller or admin dashboards
type Notification struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SellerID      uint      `gorm:"not null;index" json:"seller_id"`
	BuyerID       uint      `gorm:"not null;index" json:"buyer_id"`
	OrderID       uint      `gorm:"not null;index" json:"order_id"`
	RecipientRole string    `gorm:"not null;index;default:'buyer'" json:"recipient_role"`
	Type          string    `gorm:"not null" json:"type"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	IsRead        bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}

// RecipientID returns the user the notification is addressed to. Admin
// notifications have no single recipient.
func (n Notification) RecipientID() (uint, bool) {
	switch n.RecipientRole {
	case RoleBuyer:
		return n.BuyerID, true
	case RoleSeller:
		return n.SellerID, true
	default:
		return 0, false
	}
}
