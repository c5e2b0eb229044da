package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/money"
)

// ProductDTO is the storefront view of a sellable product.
type ProductDTO struct {
	ID          uuid.UUID `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Price       string    `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProductListDTO is one page of the catalog.
type ProductListDTO struct {
	Products   []ProductDTO `json:"products"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toProductDTO(p models.Product) ProductDTO {
	return ProductDTO{
		ID:          p.ID,
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Price:       money.Format(p.PriceCents),
		CreatedAt:   p.CreatedAt,
	}
}
