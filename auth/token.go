// Package auth turns bearer tokens into principals and decides reviewer
// capability. Identity itself is owned by an external provider; this
// package only verifies what that provider signed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/clockd/generic"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the token payload. The subject is the employee id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for p.
func (t *Tokens) Issue(p generic.Principal) (string, error) {
	now := t.now()
	claims := Claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.EmployeeID),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies a token and returns its principal.
func (t *Tokens) Parse(tokenString string) (generic.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(t.now))
	if err != nil {
		return generic.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return generic.Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return generic.Principal{EmployeeID: generic.EmployeeID(claims.Subject), Roles: claims.Roles}, nil
}

// =============================================================================
// REQUEST CONTEXT
// =============================================================================

type principalKey struct{}

func WithPrincipal(ctx context.Context, p generic.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the auth middleware.
func FromContext(ctx context.Context) (generic.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(generic.Principal)
	return p, ok && !p.IsZero()
}
