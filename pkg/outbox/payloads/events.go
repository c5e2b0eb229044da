package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent is emitted when checkout commits a new order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNo       string    `json:"order_no"`
	UserID        uuid.UUID `json:"user_id"`
	TotalFeeCents int64     `json:"total_fee_cents"`
	TotalAmount   int       `json:"total_amount"`
	LineCount     int       `json:"line_count"`
}

// OrderCanceledEvent is emitted when a customer deletes an order.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	OrderNo    string    `json:"order_no"`
	UserID     uuid.UUID `json:"user_id"`
	CanceledAt time.Time `json:"canceled_at"`
}
