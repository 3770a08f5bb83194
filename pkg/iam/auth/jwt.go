// Package auth authenticates API requests with HMAC-signed JWTs and makes
// the resulting identity available to every handler behind the middleware.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
)

var authErrors = errx.NewRegistry("AUTH")

var (
	ErrMissingToken = authErrors.Register("MISSING_TOKEN", errx.TypeAuthorization, 401, "Missing bearer token")
	ErrInvalidToken = authErrors.Register("INVALID_TOKEN", errx.TypeAuthorization, 401, "Invalid or expired token")
	ErrForbidden    = authErrors.Register("FORBIDDEN", errx.TypeAuthorization, 403, "Insufficient scope")
)

// Claims is the token payload carried by access tokens.
type Claims struct {
	UserID   kernel.UserID   `json:"user_id"`
	TenantID kernel.TenantID `json:"tenant_id"`
	Email    string          `json:"email"`
	Scopes   []string        `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 access tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewJWTService(secret string, ttl time.Duration, issuer string) *JWTService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if issuer == "" {
		issuer = "recibo"
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, issuer: issuer}
}

// Issue signs an access token for the given identity.
func (s *JWTService) Issue(userID kernel.UserID, tenantID kernel.TenantID, email string, scopes []string) (string, error) {
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", authErrors.NewWithCause(ErrInvalidToken, err)
	}
	return signed, nil
}

// Validate parses and verifies an access token.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, authErrors.NewWithMessage(ErrInvalidToken, "unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, authErrors.NewWithCause(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, authErrors.New(ErrInvalidToken)
	}
	return claims, nil
}
