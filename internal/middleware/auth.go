package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goahttp "goa.design/goa/v3/http"

	"kotakwatch/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// ClaimsContextKey is the key for storing token claims in context
	ClaimsContextKey ContextKey = "claims"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireBearer rejects requests without a valid bearer token and stores
// the claims in the request context.
func RequireBearer(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				WriteError(w, r, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token := BearerToken(r)
			if token == "" {
				WriteError(w, r, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			if tokens == nil {
				WriteError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			claims, err := tokens.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					WriteError(w, r, http.StatusUnauthorized, "token has expired")
				} else {
					WriteError(w, r, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// ClaimsFromContext retrieves token claims from the request context
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	goahttp.ResponseEncoder(r.Context(), w).Encode(ErrorBody{Detail: detail})
}
