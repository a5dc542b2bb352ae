package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pixelforge/backend/internal/auth"
)

type contextKey string

const ctxIdentityKey contextKey = "identity"

// TokenValidator is the slice of the auth service the middleware needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Identity, error)
}

// JWTAuth authenticates requests by validating the Bearer token and setting
// the identity into request context.
func JWTAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			ident, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// IdentityFromCtx returns the authenticated identity, or ok=false when the
// request did not pass auth.
func IdentityFromCtx(ctx context.Context) (auth.Identity, bool) {
	ident, ok := ctx.Value(ctxIdentityKey).(auth.Identity)
	return ident, ok
}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, ident auth.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, ident)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
