package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/auth"
	"github.com/example/ec-orders/internal/command"
)

// TokenValidator is satisfied by *auth.JWTService.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractToken reads the access token from the access_token cookie or the
// Authorization bearer header, in that order.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

type claimsKey struct{}

// Authenticate rejects requests without a valid access token and stores the
// claims in the request context. The user id is added to the request logger.
func Authenticate(tokens TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ExtractToken(r)
			if tokenString == "" {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateAccessToken(tokenString)
			if err != nil {
				zctx.From(r.Context()).Debug("Rejected access token", zap.Error(err))
				respondError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = zctx.With(ctx, zap.String("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through only callers whose token carries one of roles.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				respondError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// PrincipalFromContext returns the caller of an authenticated request.
func PrincipalFromContext(ctx context.Context) (command.Principal, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return command.Principal{}, false
	}
	return command.Principal{UserID: claims.UserID, Role: claims.Role}, true
}
