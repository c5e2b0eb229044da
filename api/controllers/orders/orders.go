package orders

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/willshop/storefront/api/middleware"
	"github.com/willshop/storefront/api/responses"
	"github.com/willshop/storefront/api/validators"
	checkoutsvc "github.com/willshop/storefront/internal/checkout"
	internalorders "github.com/willshop/storefront/internal/orders"
	pkgcheckout "github.com/willshop/storefront/pkg/checkout"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/money"
	"github.com/willshop/storefront/pkg/types"
)

// Create commits the caller's selections as a new order.
func Create(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.Commit(r.Context(), userID, payload.toSelections())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createOrderResponse{
			OrderNo:     receipt.OrderNo,
			OrderID:     receipt.OrderID,
			TotalFee:    money.Format(receipt.TotalFeeCents),
			TotalAmount: receipt.TotalAmount,
		})
	}
}

// List returns the caller's orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order with its lines when the caller owns it.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Cancel deletes an order owned by the caller.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), orderID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, types.InfoResponse{Info: "deleted"})
	}
}

type createOrderRequest struct {
	Selections []selectionRequest `json:"selections" validate:"dive"`
}

type selectionRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Amount    int       `json:"amount"`
	// UnitPrice is accepted for compatibility with older clients and ignored.
	UnitPrice json.RawMessage `json:"unit_price,omitempty"`
}

func (p createOrderRequest) toSelections() []pkgcheckout.Selection {
	out := make([]pkgcheckout.Selection, 0, len(p.Selections))
	for _, s := range p.Selections {
		out = append(out, pkgcheckout.Selection{ProductID: s.ProductID, Amount: s.Amount})
	}
	return out
}

type createOrderResponse struct {
	OrderNo     string    `json:"order_no"`
	OrderID     uuid.UUID `json:"order_id"`
	TotalFee    string    `json:"total_fee"`
	TotalAmount int       `json:"total_amount"`
}

func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// parseOrderID reports a malformed id as a missing order; no such order exists.
func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
	}
	return id, nil
}
