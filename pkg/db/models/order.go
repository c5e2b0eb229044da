package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/enums"
)

// Order is the committed result of a checkout. TotalFeeCents and TotalAmount
// always equal the sums over Lines.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNo       string            `gorm:"column:order_no;not null;uniqueIndex:orders_order_no_key"`
	UserID        uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	TotalFeeCents int64             `gorm:"column:total_fee_cents;not null"`
	TotalAmount   int               `gorm:"column:total_amount;not null"`
	Status        enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	Lines         []OrderLine       `gorm:"foreignKey:OrderID"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
