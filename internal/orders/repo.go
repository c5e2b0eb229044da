package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/pagination"
)

// ErrOrderWithoutLines is returned before any write when an order has no lines.
var ErrOrderWithoutLines = errors.New("orders: order has no lines")

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order row and then its lines. Callers run it inside
// a transaction so both land together.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order == nil || len(order.Lines) == 0 {
		return ErrOrderWithoutLines
	}
	db := r.db.WithContext(ctx)
	if err := db.Omit("Lines").Create(order).Error; err != nil {
		return err
	}
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
	}
	return db.Create(&order.Lines).Error
}

// FindOwnedOrder loads the order with its lines when it belongs to userID.
// Orders of other users surface as gorm.ErrRecordNotFound.
func (r *repository) FindOwnedOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListUserOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, err
	}

	qb := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = qb.Preload("Lines").
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return pagination.Page[models.Order]{}, err
	}

	return pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

// DeleteOrder removes the lines and then the order row.
func (r *repository) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&models.OrderLine{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", orderID).Delete(&models.Order{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CountLines(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OrderLine{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}
