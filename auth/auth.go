// Package auth authenticates callers with HS256 bearer tokens and enforces
// the single-owner gate on registry mutation and sequence control. The
// token subject is the caller's account id.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"module-host/models"
)

type ctxKey struct{}

var accountKey = ctxKey{}

// Authenticator validates tokens and knows who the owner is.
type Authenticator struct {
	secret []byte
	owner  string
}

// New builds an Authenticator from the configured signing secret and owner
// account.
func New(secret, owner string) *Authenticator {
	return &Authenticator{secret: []byte(secret), owner: owner}
}

// Owner returns the configured owner account.
func (a *Authenticator) Owner() string {
	return a.owner
}

// IsOwner reports whether an account is the host owner.
func (a *Authenticator) IsOwner(account string) bool {
	return account != "" && account == a.owner
}

// Token signs a token for an account. Used by tests and provisioning
// tooling; the host itself never mints tokens for callers.
func (a *Authenticator) Token(account string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware extracts the caller's account from a Bearer token into the
// request context. Requests without a token pass through unauthenticated;
// routes that need an identity reject them downstream.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		const scheme = "Bearer "
		if !strings.HasPrefix(header, scheme) {
			http.Error(w, "unsupported authorization scheme", http.StatusUnauthorized)
			return
		}
		account, err := a.verify(strings.TrimPrefix(header, scheme))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, account)))
	})
}

func (a *Authenticator) verify(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", models.ErrAuthorization)
	}
	return claims.Subject, nil
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(accountKey).(string)
	return account, ok && account != ""
}
