package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator validates owner-channel bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenClaims is what the middleware needs from a validated token: the
// address the caller proved control of, and whether the token grants
// administration.
type TokenClaims struct {
	Address string
	Admin   bool
}

type contextKeyOwnerAddress struct{}
type contextKeyAdmin struct{}

// GetOwnerAddress retrieves the authenticated owner address from the context.
func GetOwnerAddress(ctx context.Context) string {
	addr, _ := ctx.Value(contextKeyOwnerAddress{}).(string)
	return addr
}

// IsAdmin reports whether the request carries an admin token.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(contextKeyAdmin{}).(bool)
	return admin
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims in the context for handlers.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(r.Context(), "unauthorized, missing bearer token",
					"request_id", GetRequestID(r.Context()))
				unauthorized(w, "missing or malformed Authorization header")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized, invalid token",
					"error", err,
					"request_id", GetRequestID(r.Context()))
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyOwnerAddress{}, claims.Address)
			ctx = context.WithValue(ctx, contextKeyAdmin{}, claims.Admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must be stacked after RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdmin(r.Context()) {
				logger.WarnContext(r.Context(), "forbidden, admin token required",
					"request_id", GetRequestID(r.Context()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
