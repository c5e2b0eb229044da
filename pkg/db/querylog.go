package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/willshop/storefront/pkg/logger"
)

const maxLoggedSQL = 512

// queryLogger routes GORM diagnostics into the request-scoped logger, so a
// slow statement carries the same request_id as the handler that issued it.
// Only failed and slow statements are written.
type queryLogger struct {
	logg      *logger.Logger
	slow      time.Duration
	verbosity gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow, verbosity: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.verbosity = level
	return &clone
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.verbosity >= gormlogger.Info {
		q.logg.Info(q.logg.WithField(ctx, "gorm", fmt.Sprintf(msg, args...)), "db.info")
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.verbosity >= gormlogger.Warn {
		q.logg.Warn(q.logg.WithField(ctx, "gorm", fmt.Sprintf(msg, args...)), "db.warn")
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.verbosity >= gormlogger.Error {
		q.logg.Error(ctx, "db.error", fmt.Errorf(msg, args...))
	}
}

// Trace ignores ErrRecordNotFound; callers map it to their own not-found
// errors.
func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.verbosity <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow
	if !failed && !slow {
		return
	}

	statement, rows := fc()
	if len(statement) > maxLoggedSQL {
		statement = statement[:maxLoggedSQL] + "..."
	}
	scoped := q.logg.WithFields(ctx, map[string]any{
		"sql":         statement,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})

	switch {
	case failed && q.verbosity >= gormlogger.Error:
		q.logg.Error(scoped, "db.query_failed", err)
	case slow && q.verbosity >= gormlogger.Warn:
		q.logg.Warn(scoped, "db.slow_query")
	}
}
