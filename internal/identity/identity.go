// Package identity verifies bearer tokens minted by the external identity
// provider and exposes the authenticated principal to request handlers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Principal is the caller identity established by the identity provider.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Claims carried by identity provider tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens issued for this service.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier constructs a Verifier. An empty issuer disables issuer checks.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Verify parses the token and returns the principal it names.
func (v *Verifier) Verify(raw string) (Principal, error) {
	if v == nil || len(v.secret) == 0 {
		return Principal{}, errors.New("identity: verifier not configured")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, fmt.Errorf("identity: missing token: %w", shared.ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("identity: %v: %w", err, shared.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("identity: token without subject: %w", shared.ErrUnauthenticated)
	}
	return Principal{ID: claims.Subject, Email: claims.Email}, nil
}

// Sign mints a token for the principal. Used by local tooling and tests; the
// production issuer is the identity provider.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("identity: verifier not configured")
	}
	now := v.now()
	claims := Claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p.ID != ""
}
