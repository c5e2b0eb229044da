package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/outbox"
	"github.com/willshop/storefront/pkg/pagination"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOwnedOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
	CountLines(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
