package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/willshop/storefront/internal/catalog"
	checkoutsvc "github.com/willshop/storefront/internal/checkout"
	"github.com/willshop/storefront/internal/orders"
	pkgAuth "github.com/willshop/storefront/pkg/auth"
	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db/dbtest"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/metrics"
	"github.com/willshop/storefront/pkg/ordernumber"
	"github.com/willshop/storefront/pkg/outbox"
)

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
	down   bool
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryRedis) CounterKey(name string) string {
	return "counter:" + name
}

func (m *memoryRedis) Ping(context.Context) error {
	if m.down {
		return fmt.Errorf("redis unreachable")
	}
	return nil
}

type testEnv struct {
	cfg    *config.Config
	conn   *gorm.DB
	redis  *memoryRedis
	router http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "willshop", ExpirationMinutes: 60, RefreshAfterPercent: 50},
		Checkout: config.CheckoutConfig{
			StoreTimeout:     5 * time.Second,
			OrderNoPrefix:    "WS",
			RateLimitWindow:  time.Minute,
			RateLimitPerUser: 3,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	store := newMemoryRedis()
	reg := prometheus.NewRegistry()

	catalogRepo := catalog.NewRepository(conn)
	catalogService, err := catalog.NewService(catalogRepo)
	require.NoError(t, err)

	checkoutStore, err := checkoutsvc.NewStore(client, ordernumber.NewSequence(store, cfg.Checkout.OrderNoPrefix))
	require.NoError(t, err)

	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ordersRepo := orders.NewRepository(conn)
	checkoutService, err := checkoutsvc.NewService(catalogRepo, checkoutStore, ordersRepo, emitter, cfg.Checkout, metrics.NewCheckoutMetrics(reg), logg)
	require.NoError(t, err)

	ordersService, err := orders.NewService(ordersRepo, client, emitter, logg)
	require.NoError(t, err)

	router := NewRouter(cfg, logg, client, store, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), catalogService, checkoutService, ordersService)
	return &testEnv{cfg: cfg, conn: conn, redis: store, router: router}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(e.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func selectionsBody(entries ...any) string {
	parts := make([]string, 0, len(entries)/2)
	for i := 0; i+1 < len(entries); i += 2 {
		parts = append(parts, fmt.Sprintf(`{"product_id":"%s","amount":%d}`, entries[i], entries[i+1]))
	}
	return `{"selections":[` + strings.Join(parts, ",") + `]}`
}

type orderCreated struct {
	Data struct {
		OrderNo string    `json:"order_no"`
		OrderID uuid.UUID `json:"order_id"`
	} `json:"data"`
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.redis.down = true
	rec = env.do(t, http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrdersRequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := env.do(t, method, "/api/v1/orders", "", `{"selections":[]}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, method)
	}
}

func TestProductsArePublic(t *testing.T) {
	env := newTestEnv(t)
	dbtest.SeedProduct(t, env.conn, "Widget", 1000, true)
	dbtest.SeedProduct(t, env.conn, "Retired", 500, false)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Widget")
	assert.NotContains(t, rec.Body.String(), "Retired")
}

func TestCommitTwoProductsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	p2 := dbtest.SeedProduct(t, env.conn, "P2", 500, true)
	userID := uuid.New()
	token := env.token(t, userID)

	rec := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 2, p2.ID, 1), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created orderCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Data.OrderNo, "WS"))

	var order models.Order
	require.NoError(t, env.conn.Preload("Lines").First(&order, "order_no = ?", created.Data.OrderNo).Error)
	assert.Equal(t, int64(2500), order.TotalFeeCents)
	assert.Equal(t, 3, order.TotalAmount)
	assert.Len(t, order.Lines, 2)
	assert.Equal(t, userID, order.UserID)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+created.Data.OrderID.String(), token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_fee":"25.00"`)

	rec = env.do(t, http.MethodGet, "/api/v1/orders", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Data.OrderNo)
}

func TestCommitRejectionsLeaveNoOrders(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, uuid.New())

	rec := env.do(t, http.MethodPost, "/api/v1/orders", token, `{"selections":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EMPTY_SELECTION", body.Error.Code)

	missing := uuid.New()
	rec = env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(missing, 1), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = errorBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNKNOWN_PRODUCT", body.Error.Code)

	var count int64
	require.NoError(t, env.conn.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestClientPriceIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	token := env.token(t, uuid.New())

	body := `{"selections":[{"product_id":"` + p1.ID.String() + `","amount":2,"unit_price":0.01}]}`
	rec := env.do(t, http.MethodPost, "/api/v1/orders", token, body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, env.conn.First(&order).Error)
	assert.Equal(t, int64(2000), order.TotalFeeCents)
}

func TestIdempotencyKeyReplaysCommit(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	token := env.token(t, uuid.New())
	headers := map[string]string{"Idempotency-Key": "checkout-1"}

	first := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	var count int64
	require.NoError(t, env.conn.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	third := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), nil)
	require.Equal(t, http.StatusCreated, third.Code)
	require.NoError(t, env.conn.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCheckoutRateLimit(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	token := env.token(t, uuid.New())

	for i := 0; i < env.cfg.Checkout.RateLimitPerUser; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not throttled.
	rec = env.do(t, http.MethodGet, "/api/v1/orders", token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelOwnOrderOnly(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	owner := env.token(t, uuid.New())
	stranger := env.token(t, uuid.New())

	rec := env.do(t, http.MethodPost, "/api/v1/orders", owner, selectionsBody(p1.ID, 1), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/v1/orders/" + created.Data.OrderID.String()

	rec = env.do(t, http.MethodDelete, path, stranger, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, path, stranger, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, path, owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"info":"deleted"`)

	rec = env.do(t, http.MethodGet, path, owner, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var lines int64
	require.NoError(t, env.conn.Model(&models.OrderLine{}).Count(&lines).Error)
	assert.Zero(t, lines)
}

func TestMetricsEndpointExposesCheckoutCounters(t *testing.T) {
	env := newTestEnv(t)
	p1 := dbtest.SeedProduct(t, env.conn, "P1", 1000, true)
	token := env.token(t, uuid.New())

	rec := env.do(t, http.MethodPost, "/api/v1/orders", token, selectionsBody(p1.ID, 1), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `checkout_commits_total{code="",result="committed"} 1`)
}
