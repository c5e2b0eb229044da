package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/pagination"
)

// PriceQuote is the authoritative unit price of one sellable product.
type PriceQuote struct {
	ProductID      uuid.UUID
	UnitPriceCents int64
}

// Repository reads the product catalog.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// GetPrices returns quotes for the active products among ids. Unknown or
// inactive ids are simply absent from the result.
func (r *Repository) GetPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]PriceQuote, error) {
	return r.getPrices(ctx, ids, false)
}

// LockPrices re-reads prices inside tx under a shared row lock. Other
// writers cannot change the rows until tx ends.
func (r *Repository) LockPrices(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]PriceQuote, error) {
	return r.WithTx(tx).getPrices(ctx, ids, true)
}

func (r *Repository) getPrices(ctx context.Context, ids []uuid.UUID, lock bool) (map[uuid.UUID]PriceQuote, error) {
	quotes := make(map[uuid.UUID]PriceQuote, len(ids))
	if len(ids) == 0 {
		return quotes, nil
	}

	query := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Select("id", "price_cents").
		Where("id IN ?", ids).
		Where("is_active = ?", true)
	if lock && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "SHARE"})
	}

	var rows []models.Product
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		quotes[row.ID] = PriceQuote{ProductID: row.ID, UnitPriceCents: row.PriceCents}
	}
	return quotes, nil
}

// ListFilter narrows the sellable listing.
type ListFilter struct {
	Query      string
	Pagination pagination.Params
}

// ListSellable pages through active products, newest first.
func (r *Repository) ListSellable(ctx context.Context, filter ListFilter) (pagination.Page[models.Product], error) {
	cursor, err := pagination.ParseCursor(filter.Pagination.Cursor)
	if err != nil {
		return pagination.Page[models.Product]{}, err
	}

	qb := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("is_active = ?", true)
	if search := strings.TrimSpace(filter.Query); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		qb = qb.Where("(LOWER(name) LIKE ? OR LOWER(sku) LIKE ?)", pattern, pattern)
	}
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Product
	err = qb.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Pagination.Limit)).
		Find(&rows).Error
	if err != nil {
		return pagination.Page[models.Product]{}, err
	}

	return pagination.Trim(rows, filter.Pagination.Limit, func(p models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	}), nil
}
