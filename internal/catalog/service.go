package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/db/models"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/pagination"
)

type repository interface {
	GetPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]PriceQuote, error)
	ListSellable(ctx context.Context, filter ListFilter) (pagination.Page[models.Product], error)
}

// Service exposes the catalog read paths used by controllers.
type Service interface {
	ListProducts(ctx context.Context, filter ListFilter) (*ProductListDTO, error)
}

type service struct {
	repo repository
}

func NewService(repo repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListProducts(ctx context.Context, filter ListFilter) (*ProductListDTO, error) {
	if _, err := pagination.ParseCursor(filter.Pagination.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	page, err := s.repo.ListSellable(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}

	out := &ProductListDTO{
		Products:   make([]ProductDTO, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, p := range page.Items {
		out.Products = append(out.Products, toProductDTO(p))
	}
	return out, nil
}
