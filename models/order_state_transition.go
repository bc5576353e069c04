package models

import "time"

// OrderStateTransition is an append-only audit row. Rows are inserted once
// per observed transition and never updated.
type OrderStateTransition struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OrderID         uint      `gorm:"not null;index" json:"order_id"`
	FromStatus      string    `gorm:"not null" json:"from_status"`
	ToStatus        string    `gorm:"not null" json:"to_status"`
	Reason          string    `gorm:"type:text" json:"reason"`
	TriggeredBy     string    `gorm:"not null" json:"triggered_by"`
	TriggeredByRole string    `gorm:"not null" json:"triggered_by_role"` // buyer, seller, admin or system
	CreatedAt       time.Time `gorm:"index" json:"timestamp"`
}

// TableName specifies the table name for the OrderStateTransition model
func (OrderStateTransition) TableName() string {
	return "order_state_transitions"
}
