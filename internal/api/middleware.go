/**
 * @description
 * This file contains custom middleware for the HTTP router. Authentication
 * validates the bearer token and stores the owner id on the request context;
 * authorization asks the permission engine whether that owner may touch the
 * requested resource.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - internal/app, internal/domain: Authorization engine and action types.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/Mark777g/CajeroVortexFinal/internal/app"
	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
)

// OwnerIDContextKey is a custom type for the context key to avoid collisions.
type OwnerIDContextKey string

const ownerIDKey OwnerIDContextKey = "ownerID"

// OwnerFromContext returns the authenticated owner id, or "" when the
// request never passed authentication.
func OwnerFromContext(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerIDKey).(string)
	return ownerID
}

// AuthMiddleware validates the bearer token and stores its subject owner id
// on the request context.
func AuthMiddleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			ownerID, err := issuer.Verify(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission asks the authorization engine whether the authenticated
// owner may perform the request. The resource is the request path and the
// action follows the method: GET reads, everything else writes.
func RequirePermission(authz *app.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := domain.ActionWrite
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				action = domain.ActionRead
			}
			ownerID := OwnerFromContext(r.Context())
			if !authz.HasPermission(r.Context(), ownerID, r.URL.Path, action) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
