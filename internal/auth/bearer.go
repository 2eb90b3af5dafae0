package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerAuth sends a bearer token, typically a JWT.
type BearerAuth struct {
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewBearerAuth creates a bearer provider. The expiry of JWT tokens is read
// from their exp claim.
func NewBearerAuth(token string) *BearerAuth {
	b := &BearerAuth{token: token, now: time.Now}
	if exp, err := ParseExpiry(token); err == nil {
		b.expiry = exp
	}
	return b
}

// Authenticate fails on a missing or expired token.
func (b *BearerAuth) Authenticate(ctx context.Context) error {
	if b.token == "" {
		return fmt.Errorf("bearer auth requires a token")
	}
	if !b.expiry.IsZero() && b.now().After(b.expiry) {
		return fmt.Errorf("bearer token expired at %s", b.expiry.Format(time.RFC3339))
	}
	return nil
}

// Headers returns the Authorization header.
func (b *BearerAuth) Headers() map[string]string {
	if b.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + b.token}
}

func (b *BearerAuth) Type() AuthType { return AuthTypeBearer }

// Expiry returns the token expiry, zero when unknown.
func (b *BearerAuth) Expiry() time.Time {
	return b.expiry
}

// ParseExpiry reads the exp claim of a JWT without verifying its signature.
func ParseExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil || exp.Unix() == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return exp.Time, nil
}
