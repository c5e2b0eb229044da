package checkout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/willshop/storefront/internal/catalog"
	"github.com/willshop/storefront/internal/orders"
	pkgcheckout "github.com/willshop/storefront/pkg/checkout"
	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db/dbtest"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/enums"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/metrics"
	"github.com/willshop/storefront/pkg/outbox"
)

type scriptedNumbers struct {
	mu     sync.Mutex
	script []string
	next   int
}

func (g *scriptedNumbers) Next(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next < len(g.script) {
		n := g.script[g.next]
		g.next++
		return n, nil
	}
	g.next++
	return fmt.Sprintf("WS20261016%06d", g.next), nil
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox unavailable")
}

type blockingStore struct{ calls int }

func (s *blockingStore) RunAtomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingStore) NextOrderNo(context.Context) (string, error) { return "WS1", nil }

// staleCatalog serves old prices outside the transaction and delegates the
// locked read to the real repository.
type staleCatalog struct {
	*catalog.Repository
	stale map[uuid.UUID]catalog.PriceQuote
}

func (c staleCatalog) GetPrices(context.Context, []uuid.UUID) (map[uuid.UUID]catalog.PriceQuote, error) {
	return c.stale, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	conn    *gorm.DB
	svc     Service
	numbers *scriptedNumbers
	reg     *prometheus.Registry
	logs    *lockedBuffer
}

type harnessOption func(*harnessDeps)

type harnessDeps struct {
	prices  priceCatalog
	store   Store
	emitter outboxPublisher
	cfg     config.CheckoutConfig
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	client, conn := dbtest.Client(t)
	numbers := &scriptedNumbers{}
	store, err := NewStore(client, numbers)
	require.NoError(t, err)

	deps := harnessDeps{
		prices:  catalog.NewRepository(conn),
		store:   store,
		emitter: outbox.NewService(outbox.NewRepository(conn), nil),
		cfg:     config.CheckoutConfig{StoreTimeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	reg := prometheus.NewRegistry()
	logs := &lockedBuffer{}
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: logs})

	svc, err := NewService(deps.prices, deps.store, orders.NewRepository(conn), deps.emitter, deps.cfg, metrics.NewCheckoutMetrics(reg), logg)
	require.NoError(t, err)
	return &harness{conn: conn, svc: svc, numbers: numbers, reg: reg, logs: logs}
}

func (h *harness) countRows(t *testing.T) (orderCount, lineCount, eventCount int64) {
	t.Helper()
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&orderCount).Error)
	require.NoError(t, h.conn.Model(&models.OrderLine{}).Count(&lineCount).Error)
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Count(&eventCount).Error)
	return orderCount, lineCount, eventCount
}

func (h *harness) commitCount(t *testing.T, result, code string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "checkout_commits_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["result"] == result && labels["code"] == code {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCommitSingleProduct(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	userID := uuid.New()

	receipt, err := h.svc.Commit(context.Background(), userID, []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 2}})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.OrderNo)
	assert.Equal(t, int64(2000), receipt.TotalFeeCents)
	assert.Equal(t, 2, receipt.TotalAmount)
	assert.Equal(t, 1, receipt.LineCount)

	var order models.Order
	require.NoError(t, h.conn.Preload("Lines").Where("order_no = ?", receipt.OrderNo).First(&order).Error)
	assert.Equal(t, userID, order.UserID)
	assert.Equal(t, int64(2000), order.TotalFeeCents)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, int64(1000), order.Lines[0].UnitPriceCents)

	var event models.OutboxEvent
	require.NoError(t, h.conn.First(&event).Error)
	assert.Equal(t, enums.EventOrderCreated, event.EventType)
	assert.Equal(t, order.ID, event.AggregateID)

	assert.Equal(t, float64(1), h.commitCount(t, metrics.ResultCommitted, ""))
	assert.Contains(t, h.logs.String(), "checkout.committed")
	assert.Contains(t, h.logs.String(), receipt.OrderNo)
}

func TestCommitTwoProductsSumsAuthoritativePrices(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	p2 := dbtest.SeedProduct(t, h.conn, "P2", 500, true)

	receipt, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{
		{ProductID: p1.ID, Amount: 2},
		{ProductID: p2.ID, Amount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), receipt.TotalFeeCents)
	assert.Equal(t, 3, receipt.TotalAmount)

	var lines []models.OrderLine
	require.NoError(t, h.conn.Where("order_id = ?", receipt.OrderID).Find(&lines).Error)
	require.Len(t, lines, 2)
	var sum int64
	for _, line := range lines {
		sum += line.SubtotalCents()
	}
	assert.Equal(t, receipt.TotalFeeCents, sum)
}

func TestCommitMergesDuplicateProducts(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 250, true)

	receipt, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{
		{ProductID: p1.ID, Amount: 1},
		{ProductID: p1.ID, Amount: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.LineCount)
	assert.Equal(t, 3, receipt.TotalAmount)
	assert.Equal(t, int64(750), receipt.TotalFeeCents)
}

func TestCommitEmptySelectionTouchesNothing(t *testing.T) {
	store := &blockingStore{}
	h := newHarness(t, func(d *harnessDeps) { d.store = store })

	_, err := h.svc.Commit(context.Background(), uuid.New(), nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptySelection))
	assert.Zero(t, store.calls)

	orderCount, lineCount, _ := h.countRows(t)
	assert.Zero(t, orderCount)
	assert.Zero(t, lineCount)
	assert.Equal(t, float64(1), h.commitCount(t, metrics.ResultRejected, string(pkgerrors.CodeEmptySelection)))
}

func TestCommitRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)

	_, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 0}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	orderCount, _, _ := h.countRows(t)
	assert.Zero(t, orderCount)
}

func TestCommitUnknownProductRejectsWholeRequest(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	retired := dbtest.SeedProduct(t, h.conn, "Retired", 700, false)
	missing := uuid.New()

	_, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{
		{ProductID: p1.ID, Amount: 1},
		{ProductID: missing, Amount: 1},
		{ProductID: retired.ID, Amount: 1},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownProduct))

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{missing, retired.ID}, details["product_ids"])

	orderCount, lineCount, eventCount := h.countRows(t)
	assert.Zero(t, orderCount)
	assert.Zero(t, lineCount)
	assert.Zero(t, eventCount)
}

func TestCommitRollsBackWhenEventCannotBeQueued(t *testing.T) {
	h := newHarness(t, func(d *harnessDeps) { d.emitter = failingEmitter{} })
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)

	_, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 2}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePersistence))

	orderCount, lineCount, _ := h.countRows(t)
	assert.Zero(t, orderCount)
	assert.Zero(t, lineCount)
	assert.Equal(t, float64(1), h.commitCount(t, metrics.ResultFailed, string(pkgerrors.CodePersistence)))
}

func TestCommitStoreTimeoutIsPersistenceFailure(t *testing.T) {
	h := newHarness(t, func(d *harnessDeps) {
		d.store = &blockingStore{}
		d.cfg.StoreTimeout = 20 * time.Millisecond
	})
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)

	_, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 1}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePersistence))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommitRetriesOrderNumberCollision(t *testing.T) {
	h := newHarness(t)
	h.numbers.script = []string{"WS20261016000001", "WS20261016000001", "WS20261016000002"}
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	sel := []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 1}}

	first, err := h.svc.Commit(context.Background(), uuid.New(), sel)
	require.NoError(t, err)
	second, err := h.svc.Commit(context.Background(), uuid.New(), sel)
	require.NoError(t, err)

	assert.Equal(t, "WS20261016000001", first.OrderNo)
	assert.Equal(t, "WS20261016000002", second.OrderNo)

	orderCount, lineCount, _ := h.countRows(t)
	assert.Equal(t, int64(2), orderCount)
	assert.Equal(t, int64(2), lineCount)
}

func TestCommitIsNotIdempotent(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	userID := uuid.New()
	sel := []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 1}}

	first, err := h.svc.Commit(context.Background(), userID, sel)
	require.NoError(t, err)
	second, err := h.svc.Commit(context.Background(), userID, sel)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderNo, second.OrderNo)
}

func TestCommitStrictModeUsesLockedPrices(t *testing.T) {
	var stale staleCatalog
	h := newHarness(t, func(d *harnessDeps) {
		d.cfg.StrictPrices = true
		d.prices = &stale
	})
	stale.Repository = catalog.NewRepository(h.conn)

	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1200, true)
	stale.stale = map[uuid.UUID]catalog.PriceQuote{p1.ID: {ProductID: p1.ID, UnitPriceCents: 1000}}

	receipt, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2400), receipt.TotalFeeCents)
}

func TestCommitStrictModeRejectsProductRetiredMidCheckout(t *testing.T) {
	var stale staleCatalog
	h := newHarness(t, func(d *harnessDeps) {
		d.cfg.StrictPrices = true
		d.prices = &stale
	})
	stale.Repository = catalog.NewRepository(h.conn)

	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, false)
	stale.stale = map[uuid.UUID]catalog.PriceQuote{p1.ID: {ProductID: p1.ID, UnitPriceCents: 1000}}

	_, err := h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{{ProductID: p1.ID, Amount: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownProduct))

	orderCount, _, _ := h.countRows(t)
	assert.Zero(t, orderCount)
}

func TestCommitConcurrentUsersKeepLinesSeparate(t *testing.T) {
	h := newHarness(t)
	p1 := dbtest.SeedProduct(t, h.conn, "P1", 1000, true)
	p2 := dbtest.SeedProduct(t, h.conn, "P2", 500, true)

	const workers = 8
	receipts := make([]*OrderReceipt, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = h.svc.Commit(context.Background(), uuid.New(), []pkgcheckout.Selection{
				{ProductID: p1.ID, Amount: i + 1},
				{ProductID: p2.ID, Amount: 1},
			})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[receipts[i].OrderNo], "duplicate order number %s", receipts[i].OrderNo)
		seen[receipts[i].OrderNo] = true

		var lines []models.OrderLine
		require.NoError(t, h.conn.Where("order_id = ?", receipts[i].OrderID).Find(&lines).Error)
		require.Len(t, lines, 2)
		var sum int64
		for _, line := range lines {
			sum += line.SubtotalCents()
		}
		assert.Equal(t, receipts[i].TotalFeeCents, sum)
		assert.Equal(t, int64(1000*(i+1)+500), sum)
	}

	orderCount, lineCount, eventCount := h.countRows(t)
	assert.Equal(t, int64(workers), orderCount)
	assert.Equal(t, int64(2*workers), lineCount)
	assert.Equal(t, int64(workers), eventCount)
}

func TestCommitRequiresUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Commit(context.Background(), uuid.Nil, []pkgcheckout.Selection{{ProductID: uuid.New(), Amount: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, config.CheckoutConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewStore(nil, nil)
	assert.Error(t, err)
}
