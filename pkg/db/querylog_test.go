package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/willshop/storefront/pkg/logger"
)

func newBufferedQueryLogger(slow time.Duration) (gormlogger.Interface, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	return newQueryLogger(logg, slow), buf
}

func statement(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestQueryLoggerSkipsFastSuccessfulQueries(t *testing.T) {
	ql, buf := newBufferedQueryLogger(time.Second)
	ql.Trace(context.Background(), time.Now(), statement("SELECT 1", 1), nil)
	assert.Empty(t, buf.String())
}

func TestQueryLoggerIgnoresRecordNotFound(t *testing.T) {
	ql, buf := newBufferedQueryLogger(time.Second)
	ql.Trace(context.Background(), time.Now(), statement("SELECT * FROM orders", 0), gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())
}

func TestQueryLoggerReportsFailures(t *testing.T) {
	ql, buf := newBufferedQueryLogger(time.Second)
	ql.Trace(context.Background(), time.Now(), statement("INSERT INTO orders", 0), errors.New("duplicate key"))
	out := buf.String()
	assert.Contains(t, out, "db.query_failed")
	assert.Contains(t, out, "INSERT INTO orders")
	assert.Contains(t, out, "duplicate key")
}

func TestQueryLoggerReportsSlowQueriesAndTruncates(t *testing.T) {
	ql, buf := newBufferedQueryLogger(time.Millisecond)
	long := "SELECT " + strings.Repeat("x", maxLoggedSQL)
	ql.Trace(context.Background(), time.Now().Add(-time.Second), statement(long, 3), nil)
	out := buf.String()
	assert.Contains(t, out, "db.slow_query")
	assert.NotContains(t, out, long)
}

func TestQueryLoggerSilentMode(t *testing.T) {
	ql, buf := newBufferedQueryLogger(time.Millisecond)
	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), statement("SELECT 1", 1), errors.New("boom"))
	assert.Empty(t, buf.String())
}

func TestQueryLoggerNilLoggerDiscards(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}
