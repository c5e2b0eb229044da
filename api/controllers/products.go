package controllers

import (
	"net/http"

	"github.com/willshop/storefront/api/responses"
	"github.com/willshop/storefront/api/validators"
	"github.com/willshop/storefront/internal/catalog"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
)

const maxProductQueryLen = 100

// ListProducts returns the sellable catalog, newest first.
func ListProducts(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListProducts(r.Context(), catalog.ListFilter{
			Query:      validators.SanitizeString(r.URL.Query().Get("q"), maxProductQueryLen),
			Pagination: params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}
