package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type ledgerRow struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	return conn
}

func countRows(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&ledgerRow{}).Count(&count).Error)
	return count
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Name: "committed"}).Error
	}))
	assert.EqualValues(t, 1, countRows(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&ledgerRow{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, countRows(t, conn))
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Name: "half"}).Error)
			panic("store crashed")
		})
	})
	assert.EqualValues(t, 0, countRows(t, conn))
}

func TestWithTx_RollsBackWhenContextExpires(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)

	ctx, cancel := context.WithCancel(context.Background())
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&ledgerRow{Name: "late"}).Error; err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, countRows(t, conn))
}

func TestPing(t *testing.T) {
	client := NewFromGorm(newTestDB(t))
	require.NoError(t, client.Ping(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	conn := newTestDB(t)
	require.NoError(t, conn.Create(&ledgerRow{Name: "dup"}).Error)
	err := conn.Create(&ledgerRow{Name: "dup"}).Error
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(err, "orders.order_no"))

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_no_key"}
	assert.True(t, IsUniqueViolation(pgErr))
	assert.True(t, IsUniqueViolation(pgErr, "other_key", "orders_order_no_key"))
	assert.False(t, IsUniqueViolation(pgErr, "other_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(nil))
}
