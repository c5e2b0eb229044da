package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/willshop/storefront/api/controllers"
	ordercontrollers "github.com/willshop/storefront/api/controllers/orders"
	"github.com/willshop/storefront/api/middleware"
	"github.com/willshop/storefront/internal/catalog"
	checkoutsvc "github.com/willshop/storefront/internal/checkout"
	"github.com/willshop/storefront/internal/orders"
	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db"
	"github.com/willshop/storefront/pkg/logger"
	pkgredis "github.com/willshop/storefront/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Counter
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	metricsHandler http.Handler,
	catalogService catalog.Service,
	checkoutService checkoutsvc.Service,
	ordersService orders.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Checkout.RateLimitWindow,
		cfg.Checkout.RateLimitPerIP,
		cfg.Checkout.RateLimitPerUser,
	)

	var checks []controllers.ReadinessCheck
	if dbP != nil {
		checks = append(checks, controllers.ReadinessCheck{Name: "postgres", Ping: dbP.Ping})
	}
	if redisStore != nil {
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Ping: redisStore.Ping})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks...))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	var (
		idempotencyStore pkgredis.IdempotencyStore
		counter          pkgredis.Counter
	)
	if redisStore != nil {
		idempotencyStore, counter = redisStore, redisStore
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(catalogService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RateLimit(checkoutPolicy, counter, logg)).Post("/", ordercontrollers.Create(checkoutService, logg))
				r.Get("/", ordercontrollers.List(ordersService, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(ordersService, logg))
				r.Delete("/{orderId}", ordercontrollers.Cancel(ordersService, logg))
			})
		})
	})

	return r
}
