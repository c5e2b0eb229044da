package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

var (
	ErrSecretRequired  = errors.New("jwt secret is required")
	ErrIssuerRequired  = errors.New("jwt issuer is required")
	ErrInvalidTTL      = errors.New("jwt expiration minutes must be positive")
	ErrUserIDRequired  = errors.New("user id is required")
	ErrSubjectMismatch = errors.New("token subject does not match user id")
)

// MintAccessToken issues an HS256 token valid for cfg.TTL() from now. The
// subject and user_id claims both carry the customer id.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrSecretRequired
	case cfg.Issuer == "":
		return "", ErrIssuerRequired
	case cfg.TTL() <= 0:
		return "", ErrInvalidTTL
	case payload.UserID == uuid.Nil:
		return "", ErrUserIDRequired
	}

	tokenID := strings.TrimSpace(payload.JTI)
	if tokenID == "" {
		tokenID = uuid.NewString()
	}

	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		UserID: payload.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL())),
		},
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, algorithm, issuer and expiry. jwt
// sentinel errors such as jwt.ErrTokenExpired stay reachable via errors.Is.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretRequired
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, secretKey(cfg.Secret)); err != nil {
		return nil, err
	}

	if claims.UserID == uuid.Nil {
		return nil, ErrUserIDRequired
	}
	if claims.Subject != "" && claims.Subject != claims.UserID.String() {
		return nil, ErrSubjectMismatch
	}
	return claims, nil
}

func secretKey(secret string) jwt.Keyfunc {
	key := []byte(secret)
	return func(*jwt.Token) (any, error) {
		return key, nil
	}
}

// NeedsRefresh reports whether a token is old enough that the API should
// hand the client a fresh one on this response.
func NeedsRefresh(cfg config.JWTConfig, claims *AccessTokenClaims, now time.Time) bool {
	if claims == nil || claims.IssuedAt == nil {
		return false
	}
	threshold := cfg.RefreshThreshold()
	return threshold > 0 && !now.Before(claims.IssuedAt.Add(threshold))
}
