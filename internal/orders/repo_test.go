package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/db/dbtest"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/enums"
	"github.com/willshop/storefront/pkg/pagination"
)

func seedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, createdAt time.Time, products ...models.Product) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:        uuid.New(),
		OrderNo:   "WS" + uuid.NewString()[:12],
		UserID:    userID,
		Status:    enums.OrderStatusPending,
		CreatedAt: createdAt,
	}
	for i, p := range products {
		amount := i + 1
		order.Lines = append(order.Lines, models.OrderLine{
			ID:             uuid.New(),
			ProductID:      p.ID,
			Amount:         amount,
			UnitPriceCents: p.PriceCents,
		})
		order.TotalAmount += amount
		order.TotalFeeCents += int64(amount) * p.PriceCents
	}
	require.NoError(t, NewRepository(conn).CreateOrder(context.Background(), order))
	return order
}

func TestRepositoryCreateAndFindOwnedOrder(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	p1 := dbtest.SeedProduct(t, conn, "Tea", 1000, true)
	p2 := dbtest.SeedProduct(t, conn, "Mug", 500, true)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, time.Now().UTC(), p1, p2)

	found, err := repo.FindOwnedOrder(ctx, order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNo, found.OrderNo)
	require.Len(t, found.Lines, 2)
	for _, line := range found.Lines {
		assert.Equal(t, order.ID, line.OrderID)
	}

	lines, err := repo.CountLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lines)
}

func TestRepositoryFindOwnedOrderHidesOtherUsers(t *testing.T) {
	conn := dbtest.Open(t)
	p1 := dbtest.SeedProduct(t, conn, "Tea", 1000, true)
	order := seedOrder(t, conn, uuid.New(), time.Now().UTC(), p1)

	_, err := NewRepository(conn).FindOwnedOrder(context.Background(), order.ID, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryCreateOrderRejectsDuplicateOrderNo(t *testing.T) {
	conn := dbtest.Open(t)
	p1 := dbtest.SeedProduct(t, conn, "Tea", 1000, true)
	first := seedOrder(t, conn, uuid.New(), time.Now().UTC(), p1)

	dup := &models.Order{
		ID:            uuid.New(),
		OrderNo:       first.OrderNo,
		UserID:        uuid.New(),
		TotalAmount:   1,
		TotalFeeCents: 1000,
		Lines:         []models.OrderLine{{ID: uuid.New(), ProductID: p1.ID, Amount: 1, UnitPriceCents: 1000}},
	}
	err := NewRepository(conn).CreateOrder(context.Background(), dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")
}

func TestRepositoryCreateOrderRejectsEmptyOrder(t *testing.T) {
	conn := dbtest.Open(t)
	order := &models.Order{
		ID:        uuid.New(),
		OrderNo:   "WS-EMPTY",
		UserID:    uuid.New(),
		Status:    enums.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	err := NewRepository(conn).CreateOrder(context.Background(), order)
	require.ErrorIs(t, err, ErrOrderWithoutLines)

	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepositoryListUserOrdersNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	p1 := dbtest.SeedProduct(t, conn, "Tea", 1000, true)

	userID := uuid.New()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	oldest := seedOrder(t, conn, userID, base, p1)
	middle := seedOrder(t, conn, userID, base.Add(time.Hour), p1)
	newest := seedOrder(t, conn, userID, base.Add(2*time.Hour), p1)
	seedOrder(t, conn, uuid.New(), base.Add(3*time.Hour), p1)

	first, err := repo.ListUserOrders(context.Background(), userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, newest.ID, first.Items[0].ID)
	assert.Equal(t, middle.ID, first.Items[1].ID)
	assert.Len(t, first.Items[0].Lines, 1)
	require.NotEmpty(t, first.NextCursor)

	second, err := repo.ListUserOrders(context.Background(), userID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, oldest.ID, second.Items[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestRepositoryDeleteOrderRemovesLines(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	p1 := dbtest.SeedProduct(t, conn, "Tea", 1000, true)
	p2 := dbtest.SeedProduct(t, conn, "Mug", 500, true)
	order := seedOrder(t, conn, uuid.New(), time.Now().UTC(), p1, p2)

	require.NoError(t, repo.DeleteOrder(ctx, order.ID))

	lines, err := repo.CountLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, lines)
	assert.ErrorIs(t, repo.DeleteOrder(ctx, order.ID), gorm.ErrRecordNotFound)
}
