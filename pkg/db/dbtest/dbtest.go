// Package dbtest opens sqlite databases that mirror the Postgres schema closely
// enough for repository and service tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/db"
	"github.com/willshop/storefront/pkg/db/models"
)

var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_no TEXT NOT NULL,
		user_id TEXT NOT NULL,
		total_fee_cents INTEGER NOT NULL,
		total_amount INTEGER NOT NULL CHECK (total_amount > 0),
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT orders_order_no_key UNIQUE (order_no)
	)`,
	`CREATE TABLE order_lines (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products (id),
		amount INTEGER NOT NULL CHECK (amount > 0),
		unit_price_cents INTEGER NOT NULL,
		created_at DATETIME,
		UNIQUE (order_id, product_id)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// Open returns a fresh in-memory database with the storefront schema. The
// pool is pinned to one connection so every query sees the same memory db.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in a db.Client for code that needs transactions.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromGorm(conn), conn
}

// SeedProduct inserts a product and returns it.
func SeedProduct(t testing.TB, conn *gorm.DB, name string, priceCents int64, active bool) models.Product {
	t.Helper()

	product := models.Product{
		ID:         uuid.New(),
		SKU:        "SKU-" + uuid.NewString()[:8],
		Name:       name,
		PriceCents: priceCents,
		IsActive:   active,
		CreatedAt:  time.Now().UTC(),
	}
	// Select forces is_active=false through instead of the column default.
	if err := conn.Select("*").Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}
