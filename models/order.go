package models

import (
	"time"
)

// DeliveryStatus is the courier-facing shipping state of an order
type DeliveryStatus string

const (
	DeliveryNotShipped DeliveryStatus = "not_shipped"
	DeliveryInTransit  DeliveryStatus = "in_transit"
	DeliveryDelivered  DeliveryStatus = "delivered"
)

// Rank orders delivery statuses along the shipping lifecycle
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryInTransit:
		return 1
	case DeliveryDelivered:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is one of the known delivery statuses
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryNotShipped || s == DeliveryInTransit || s == DeliveryDelivered
}

// Order statuses. Cancellation lives here, not in DeliveryStatus.
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderShipped   = "shipped"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

// Order is created at checkout and afterwards only changes status; it is
// never hard deleted.
type Order struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	BuyerID          uint           `gorm:"not null;index" json:"buyer_id"`
	SellerID         uint           `gorm:"not null;index" json:"seller_id"`
	ProductCategory  string         `gorm:"not null;index" json:"product_category"`
	OrderDate        time.Time      `gorm:"not null" json:"order_date"`
	OrderStatus      string         `gorm:"not null;default:'pending'" json:"order_status"`
	DeliveryStatus   DeliveryStatus `gorm:"not null;default:'not_shipped';index" json:"delivery_status"`
	TrackingNumber   *string        `gorm:"index" json:"tracking_number"`
	Courier          *string        `json:"courier"`
	EstimatedArrival *time.Time     `json:"estimated_arrival"`
	ShippedAt        *time.Time     `json:"shipped_at"`
	DeliveredDate    *time.Time     `json:"delivered_date"`
	AmountCents      int64          `gorm:"not null;check:amount_cents >= 0" json:"amount_cents"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// IsCancelled reports whether the order was cancelled
func (o Order) IsCancelled() bool {
	return o.OrderStatus == OrderCancelled
}

// InvolvesUser reports whether the user is the buyer or the seller
func (o Order) InvolvesUser(userID uint) bool {
	return o.BuyerID == userID || o.SellerID == userID
}
