package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/willshop/storefront/api/responses"
	pkgAuth "github.com/willshop/storefront/pkg/auth"
	"github.com/willshop/storefront/pkg/config"
	pkgerrors "github.com/willshop/storefront/pkg/errors"
	"github.com/willshop/storefront/pkg/logger"
)

const authorizationHeader = "Authorization"

// Auth validates a bearer token and seeds the request context with the user.
// Once a token has used up its refresh window a replacement is returned in
// the Authorization response header.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return authWithClock(cfg, logg, time.Now)
}

func authWithClock(cfg config.JWTConfig, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID.String())
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}

			if pkgAuth.NeedsRefresh(cfg, claims, now()) {
				refreshed, err := pkgAuth.MintAccessToken(cfg, now(), pkgAuth.AccessTokenPayload{UserID: claims.UserID})
				if err != nil {
					if logg != nil {
						logg.Error(ctx, "auth.refresh_failed", err)
					}
				} else {
					w.Header().Set(authorizationHeader, "Bearer "+refreshed)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
