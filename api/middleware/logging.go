package middleware

import (
	"net/http"
	"time"

	"github.com/willshop/storefront/pkg/logger"
)

// Logging scopes the request logger with method and path, then writes a
// single request.complete line once the handler returns.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})

			meter := &responseMeter{ResponseWriter: w}
			next.ServeHTTP(meter, r.WithContext(ctx))

			done := logg.WithFields(ctx, map[string]any{
				"status":      meter.statusCode(),
				"bytes":       meter.written,
				"duration_ms": time.Since(started).Milliseconds(),
			})
			if meter.statusCode() >= http.StatusInternalServerError {
				logg.Warn(done, "request.complete")
				return
			}
			logg.Info(done, "request.complete")
		})
	}
}

type responseMeter struct {
	http.ResponseWriter
	status  int
	written int
}

func (m *responseMeter) WriteHeader(code int) {
	if m.status == 0 {
		m.status = code
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeter) Write(b []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(b)
	m.written += n
	return n, err
}

func (m *responseMeter) statusCode() int {
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}
