package jwttoken

import (
	"context"
	"fmt"

	"accounts/internal/platform/middleware"
	dErrors "accounts/pkg/domain-errors"
)

func ToMiddlewareClaims(claims *Claims) (*middleware.JWTClaims, error) {
	credentialID, err := claims.CredentialID()
	if err != nil {
		return nil, err
	}
	out := &middleware.JWTClaims{
		CredentialID: credentialID,
		Roles:        claims.Roles,
		JTI:          claims.ID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// RevocationChecker reports whether an access token was revoked by logout.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type JWTServiceAdapter struct {
	service     *JWTService
	revocations RevocationChecker
}

type AdapterOption func(*JWTServiceAdapter)

func WithRevocations(r RevocationChecker) AdapterOption {
	return func(a *JWTServiceAdapter) {
		a.revocations = r
	}
}

func NewJWTServiceAdapter(service *JWTService, opts ...AdapterOption) *JWTServiceAdapter {
	a := &JWTServiceAdapter{service: service}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ValidateToken fails closed when the revocation list cannot be read.
func (a *JWTServiceAdapter) ValidateToken(ctx context.Context, tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if a.revocations != nil {
		revoked, err := a.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
		}
	}
	return ToMiddlewareClaims(claims)
}
