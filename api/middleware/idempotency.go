package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/willshop/storefront/api/responses"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
	pkgredis "github.com/willshop/storefront/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour

	idempotencyHeader      = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLen   = 255

	// pendingIdempotencyTTL bounds a claim whose request never finished.
	pendingIdempotencyTTL = 2 * time.Minute
)

// replayedHeaders are copied from the first response into every replay.
var replayedHeaders = []string{"Content-Type", "Location"}

type idempotentRoute struct {
	method string
	path   string
	prefix bool
	ttl    time.Duration
}

func (r idempotentRoute) matches(method, path string) bool {
	if r.method != method {
		return false
	}
	if r.prefix {
		return strings.HasPrefix(path, r.path) && len(path) > len(r.path)
	}
	return path == r.path
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, path: "/api/v1/orders", ttl: criticalIdempotencyTTL},
	{method: http.MethodDelete, path: "/api/v1/orders/", prefix: true, ttl: defaultIdempotencyTTL},
}

// storedResponse is what a key resolves to in Redis. Body is base64 in JSON.
// A pending record marks a request that holds the key but has not finished.
type storedResponse struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response when a client repeats a request
// with the same Idempotency-Key. The key is claimed before the handler runs,
// so a duplicate arriving mid-flight gets 409 instead of a second execution.
// Requests without the header always run. 5xx responses release the key so
// the same key can be retried.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r))
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !guarded || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long").
					WithDetails(map[string]any{"max": maxIdempotencyKeyLen}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := hashBody(body)
			key := store.IdempotencyKey(requestScope(r), clientKey)

			claimed, previous, err := claimKey(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup failed"))
				return
			}
			if !claimed {
				switch {
				case previous.RequestHash != fingerprint:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case previous.Pending:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
				default:
					previous.replay(w)
				}
				return
			}

			keyCtx := ctx
			if logg != nil {
				keyCtx = logg.WithField(ctx, "idempotency_key", clientKey)
			}
			settled := false
			defer func() {
				if !settled {
					releaseKey(keyCtx, store, key, logg)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			// From here the claim outlives a failed write and expires on its own.
			settled = true
			resp := storedResponse{
				Status:      status,
				Body:        capture.body.Bytes(),
				Headers:     pickHeaders(capture.Header()),
				RequestHash: fingerprint,
			}
			if err := rememberResponse(ctx, store, key, resp, ttl); err != nil && logg != nil {
				logg.Error(keyCtx, "idempotency.store_failed", err)
			}
		})
	}
}

// claimKey marks key as pending unless another request already holds it, in
// which case the existing record is returned. A record that vanishes between
// the failed claim and the read is claimed again.
func claimKey(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string) (bool, *storedResponse, error) {
	marker, err := json.Marshal(storedResponse{Pending: true, RequestHash: fingerprint})
	if err != nil {
		return false, nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := store.SetNX(ctx, key, string(marker), pendingIdempotencyTTL)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, nil, nil
		}
		previous, err := lookupResponse(ctx, store, key)
		if err != nil {
			return false, nil, err
		}
		if previous != nil {
			return false, previous, nil
		}
	}
	return false, nil, errors.New("idempotency key could not be claimed")
}

// releaseKey drops a claim so the client can retry after a server error or a
// panic.
func releaseKey(ctx context.Context, store pkgredis.IdempotencyStore, key string, logg *logger.Logger) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil && logg != nil {
		logg.Error(ctx, "idempotency.release_failed", err)
	}
}

func lookupResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, pkgredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var resp storedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// rememberResponse replaces the pending claim with the final response.
func rememberResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string, resp storedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload), ttl)
}

func (s *storedResponse) replay(w http.ResponseWriter) {
	for name, value := range s.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(idempotentReplayHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

func pickHeaders(h http.Header) map[string]string {
	var picked map[string]string
	for _, name := range replayedHeaders {
		value := h.Get(name)
		if value == "" {
			continue
		}
		if picked == nil {
			picked = make(map[string]string, len(replayedHeaders))
		}
		picked[name] = value
	}
	return picked
}

// requestScope keeps keys from colliding across users and endpoints.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// routePattern matches on the request path because group middleware runs
// before chi has resolved the final route.
func routePattern(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.matches(method, pattern) {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
