package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/willshop/storefront/internal/catalog"
	"github.com/willshop/storefront/internal/orders"
	pkgcheckout "github.com/willshop/storefront/pkg/checkout"
	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/enums"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/metrics"
	"github.com/willshop/storefront/pkg/money"
	"github.com/willshop/storefront/pkg/outbox"
	"github.com/willshop/storefront/pkg/outbox/payloads"
)

// maxOrderNoAttempts bounds retries after an order number collision.
const maxOrderNoAttempts = 3

var orderNoConstraints = []string{"orders_order_no_key", "orders.order_no"}

type priceCatalog interface {
	GetPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.PriceQuote, error)
	LockPrices(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]catalog.PriceQuote, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service commits checkouts.
type Service interface {
	Commit(ctx context.Context, userID uuid.UUID, selections []pkgcheckout.Selection) (*OrderReceipt, error)
}

// OrderReceipt is what a successful commit hands back to the caller.
type OrderReceipt struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNo       string    `json:"order_no"`
	TotalFeeCents int64     `json:"total_fee_cents"`
	TotalAmount   int       `json:"total_amount"`
	LineCount     int       `json:"line_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type service struct {
	catalog    priceCatalog
	store      Store
	ordersRepo orders.Repository
	outbox     outboxPublisher
	cfg        config.CheckoutConfig
	metrics    *metrics.CheckoutMetrics
	logg       *logger.Logger
}

// NewService builds the checkout service. metrics and logg may be nil.
func NewService(
	prices priceCatalog,
	store Store,
	ordersRepo orders.Repository,
	publisher outboxPublisher,
	cfg config.CheckoutConfig,
	checkoutMetrics *metrics.CheckoutMetrics,
	logg *logger.Logger,
) (Service, error) {
	if prices == nil {
		return nil, fmt.Errorf("price catalog required")
	}
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		catalog:    prices,
		store:      store,
		ordersRepo: ordersRepo,
		outbox:     publisher,
		cfg:        cfg,
		metrics:    checkoutMetrics,
		logg:       logg,
	}, nil
}

// Commit turns selections into one order priced from the catalog. Either the
// order and all of its lines are stored, or nothing is.
func (s *service) Commit(ctx context.Context, userID uuid.UUID, selections []pkgcheckout.Selection) (*OrderReceipt, error) {
	start := time.Now()
	receipt, err := s.commit(ctx, userID, selections)
	elapsed := time.Since(start)
	if err != nil {
		s.observeFailure(ctx, err, elapsed)
		return nil, err
	}

	s.metrics.ObserveCommitted(elapsed, receipt.LineCount, receipt.TotalFeeCents)
	if s.logg != nil {
		logCtx := s.logg.WithOrderNo(ctx, receipt.OrderNo)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_id":        receipt.OrderID.String(),
			"total_fee_cents": receipt.TotalFeeCents,
			"total_amount":    receipt.TotalAmount,
			"line_count":      receipt.LineCount,
			"duration_ms":     elapsed.Milliseconds(),
		})
		s.logg.Info(logCtx, "checkout.committed")
	}
	return receipt, nil
}

func (s *service) commit(ctx context.Context, userID uuid.UUID, selections []pkgcheckout.Selection) (*OrderReceipt, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	normalized, err := pkgcheckout.NormalizeSelections(selections)
	if err != nil {
		return nil, err
	}
	ids := pkgcheckout.ProductIDs(normalized)

	quotes, err := s.catalog.GetPrices(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product prices")
	}
	draft, err := buildOrder(userID, normalized, quotes)
	if err != nil {
		return nil, err
	}

	storeCtx := ctx
	if s.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		order, err := s.persist(storeCtx, userID, ids, normalized, draft)
		if err == nil {
			return &OrderReceipt{
				OrderID:       order.ID,
				OrderNo:       order.OrderNo,
				TotalFeeCents: order.TotalFeeCents,
				TotalAmount:   order.TotalAmount,
				LineCount:     len(order.Lines),
				CreatedAt:     order.CreatedAt,
			}, nil
		}
		if attempt < maxOrderNoAttempts && storeCtx.Err() == nil && db.IsUniqueViolation(err, orderNoConstraints...) {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "checkout.order_no_collision")
			}
			continue
		}
		return nil, persistenceError(storeCtx, err)
	}
}

// persist writes draft inside one transaction. In strict mode prices are
// re-read under lock and the order is rebuilt from them.
func (s *service) persist(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, selections []pkgcheckout.Selection, draft *models.Order) (*models.Order, error) {
	var committed *models.Order
	err := s.store.RunAtomic(ctx, func(tx *gorm.DB) error {
		order := cloneOrder(draft)
		if s.cfg.StrictPrices {
			fresh, err := s.catalog.LockPrices(ctx, tx, ids)
			if err != nil {
				return fmt.Errorf("lock product prices: %w", err)
			}
			if order, err = buildOrder(userID, selections, fresh); err != nil {
				return err
			}
		}

		orderNo, err := s.store.NextOrderNo(ctx)
		if err != nil {
			return fmt.Errorf("next order number: %w", err)
		}
		order.OrderNo = orderNo

		if err := s.ordersRepo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNo:       order.OrderNo,
				UserID:        userID,
				TotalFeeCents: order.TotalFeeCents,
				TotalAmount:   order.TotalAmount,
				LineCount:     len(order.Lines),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return fmt.Errorf("queue order created event: %w", err)
		}
		committed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// buildOrder binds catalog prices to selections and computes totals. Any
// selection without a quote rejects the whole order.
func buildOrder(userID uuid.UUID, selections []pkgcheckout.Selection, quotes map[uuid.UUID]catalog.PriceQuote) (*models.Order, error) {
	var missing []uuid.UUID
	for _, sel := range selections {
		if _, ok := quotes[sel.ProductID]; !ok {
			missing = append(missing, sel.ProductID)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownProduct, "one or more products are not available").WithDetails(map[string]any{
			"product_ids": missing,
		})
	}

	order := &models.Order{
		ID:     uuid.New(),
		UserID: userID,
		Status: enums.OrderStatusPending,
		Lines:  make([]models.OrderLine, 0, len(selections)),
	}
	for _, sel := range selections {
		unit := quotes[sel.ProductID].UnitPriceCents
		subtotal, err := money.LineTotal(sel.Amount, unit)
		if err != nil {
			return nil, overflowError(sel.ProductID)
		}
		if order.TotalFeeCents, err = money.Add(order.TotalFeeCents, subtotal); err != nil {
			return nil, overflowError(sel.ProductID)
		}
		order.TotalAmount += sel.Amount
		order.Lines = append(order.Lines, models.OrderLine{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      sel.ProductID,
			Amount:         sel.Amount,
			UnitPriceCents: unit,
		})
	}
	return order, nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Lines = append([]models.OrderLine(nil), o.Lines...)
	return &cp
}

func overflowError(productID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "order total too large").WithDetails(map[string]any{
		"product_id": productID,
	})
}

// persistenceError keeps client-facing codes raised inside the transaction
// and maps everything else, timeouts included, to a persistence failure.
func persistenceError(ctx context.Context, err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeUnknownProduct, pkgerrors.CodeValidation:
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "order store timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "order could not be saved")
}

func (s *service) observeFailure(ctx context.Context, err error, elapsed time.Duration) {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}

	result := metrics.ResultFailed
	switch code {
	case pkgerrors.CodeEmptySelection, pkgerrors.CodeValidation, pkgerrors.CodeUnknownProduct, pkgerrors.CodeUnauthorized:
		result = metrics.ResultRejected
	}
	s.metrics.ObserveFailure(result, string(code), elapsed)

	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"error_code": string(code), "result": result})
	if result == metrics.ResultFailed {
		s.logg.Error(logCtx, "checkout.failed", err)
		return
	}
	s.logg.Info(logCtx, "checkout.rejected")
}
