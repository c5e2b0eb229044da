package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/enums"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/outbox"
	"github.com/willshop/storefront/pkg/outbox/payloads"
	"github.com/willshop/storefront/pkg/pagination"
)

// Service exposes the customer-facing order read and cancel paths.
type Service interface {
	Get(ctx context.Context, orderID, userID uuid.UUID) (*OrderDTO, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	Cancel(ctx context.Context, orderID, userID uuid.UUID) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Get returns the order when userID owns it. A foreign order is reported
// exactly like a missing one.
func (s *service) Get(ctx context.Context, orderID, userID uuid.UUID) (*OrderDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	order, err := s.repo.FindOwnedOrder(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	dto := toOrderDTO(*order)
	return &dto, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	page, err := s.repo.ListUserOrders(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	out := &OrderList{
		Orders:     make([]OrderDTO, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, order := range page.Items {
		out.Orders = append(out.Orders, toOrderDTO(order))
	}
	return out, nil
}

// Cancel deletes an owned order together with its lines and queues an
// order.canceled event in the same transaction.
func (s *service) Cancel(ctx context.Context, orderID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	var orderNo string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOwnedOrder(ctx, orderID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if err := repo.DeleteOrder(ctx, order.ID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "delete order")
		}

		orderNo = order.OrderNo
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Data: payloads.OrderCanceledEvent{
				OrderID:    order.ID,
				OrderNo:    order.OrderNo,
				UserID:     userID,
				CanceledAt: s.now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "queue order canceled event")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "cancel order")
		}
		return err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderNo(ctx, orderNo), "orders.canceled")
	}
	return nil
}
