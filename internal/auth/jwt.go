// Package auth validates the bearer tokens upstream services issue for a
// user. This pipeline never owns credentials or a login flow — a user's
// identity here is exactly whatever subject claim a trusted token carries;
// this package only verifies the signature and expiry and hands that
// identity to the rest of the request.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/realestate-ai/enhance-pipeline/internal/pkg/errors"
)

var (
	ErrMissingToken = fmt.Errorf("auth: missing token: %w", pkgerrors.ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("auth: invalid or expired token: %w", pkgerrors.ErrUnauthorized)
)

// Claims is the subject-only claim set this service expects: who the
// caller is and when the grant expires, nothing else.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens signed with a shared secret and resolves
// them to the caller's user ID.
type Validator struct {
	secretKey []byte
}

func NewValidator(secretKey string) *Validator {
	return &Validator{secretKey: []byte(secretKey)}
}

// ParseUserID verifies tokenString's signature and expiry and returns the
// subject claim parsed as a user ID.
func (v *Validator) ParseUserID(tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrMissingToken
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// Issuer signs access tokens for a user. Only used by internal tooling and
// tests; production callers arrive with a token already issued by whatever
// system owns account login.
type Issuer struct {
	secretKey string
	ttl       time.Duration
}

func NewIssuer(secretKey string, ttl time.Duration) *Issuer {
	return &Issuer{secretKey: secretKey, ttl: ttl}
}

func (i *Issuer) IssueAccessToken(userID uuid.UUID) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.secretKey))
}
