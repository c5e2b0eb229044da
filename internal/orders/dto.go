package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/enums"
	"github.com/willshop/storefront/pkg/money"
)

// OrderLineDTO is one line of an order as returned to the customer.
type OrderLineDTO struct {
	ProductID      uuid.UUID `json:"product_id"`
	Amount         int       `json:"amount"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	UnitPrice      string    `json:"unit_price"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	Subtotal       string    `json:"subtotal"`
}

// OrderDTO is the detail view of an order.
type OrderDTO struct {
	ID            uuid.UUID         `json:"id"`
	OrderNo       string            `json:"order_no"`
	Status        enums.OrderStatus `json:"status"`
	TotalFeeCents int64             `json:"total_fee_cents"`
	TotalFee      string            `json:"total_fee"`
	TotalAmount   int               `json:"total_amount"`
	CreatedAt     time.Time         `json:"created_at"`
	Lines         []OrderLineDTO    `json:"lines"`
}

// OrderList wraps a page of the caller's orders.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func toOrderDTO(order models.Order) OrderDTO {
	lines := make([]OrderLineDTO, 0, len(order.Lines))
	for _, line := range order.Lines {
		subtotal := line.SubtotalCents()
		lines = append(lines, OrderLineDTO{
			ProductID:      line.ProductID,
			Amount:         line.Amount,
			UnitPriceCents: line.UnitPriceCents,
			UnitPrice:      money.Format(line.UnitPriceCents),
			SubtotalCents:  subtotal,
			Subtotal:       money.Format(subtotal),
		})
	}
	return OrderDTO{
		ID:            order.ID,
		OrderNo:       order.OrderNo,
		Status:        order.Status,
		TotalFeeCents: order.TotalFeeCents,
		TotalFee:      money.Format(order.TotalFeeCents),
		TotalAmount:   order.TotalAmount,
		CreatedAt:     order.CreatedAt,
		Lines:         lines,
	}
}
