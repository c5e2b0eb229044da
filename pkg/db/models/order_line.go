package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine snapshots one product of an order at the price charged.
type OrderLine struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Amount         int       `gorm:"column:amount;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_lines" }

// SubtotalCents is amount times unit price; callers guarantee it fits in int64.
func (l OrderLine) SubtotalCents() int64 {
	return int64(l.Amount) * l.UnitPriceCents
}
