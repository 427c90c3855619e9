package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const subjectCtxKey contextKey = 0

// TokenAuth issues and checks HS256 bearer tokens. An empty secret disables
// authentication.
type TokenAuth struct {
	Secret []byte
	Expiry time.Duration
}

// NewTokenAuth builds an authenticator for secret.
func NewTokenAuth(secret string, expiry time.Duration) *TokenAuth {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenAuth{Secret: []byte(secret), Expiry: expiry}
}

// Enabled reports whether requests must carry a token.
func (a *TokenAuth) Enabled() bool {
	return a != nil && len(a.Secret) > 0
}

// Issue signs a token for subject.
func (a *TokenAuth) Issue(subject string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth secret not configured")
	}
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(a.Expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

// Validate parses a token and returns its subject.
func (a *TokenAuth) Validate(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errors.New("missing sub claim")
	}
	return subject, nil
}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on websocket upgrades, so a token query parameter is accepted too.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
		if tokenStr == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		subject, err := a.Validate(tokenStr)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), subjectCtxKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, or "local" when auth
// is disabled.
func SubjectFromContext(ctx context.Context) string {
	if subject, ok := ctx.Value(subjectCtxKey).(string); ok {
		return subject
	}
	return "local"
}
