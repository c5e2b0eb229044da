package checkout

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/ordernumber"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Store is the durable side of a commit: atomic execution plus unique order
// numbers.
type Store interface {
	RunAtomic(ctx context.Context, fn func(tx *gorm.DB) error) error
	NextOrderNo(ctx context.Context) (string, error)
}

type store struct {
	tx      txRunner
	numbers ordernumber.Generator
}

// NewStore binds a transaction runner and an order-number generator.
func NewStore(tx txRunner, numbers ordernumber.Generator) (Store, error) {
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if numbers == nil {
		return nil, errors.New("order number generator required")
	}
	return &store{tx: tx, numbers: numbers}, nil
}

func (s *store) RunAtomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.tx.WithTx(ctx, fn)
}

func (s *store) NextOrderNo(ctx context.Context) (string, error) {
	return s.numbers.Next(ctx)
}
