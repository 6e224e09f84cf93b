/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token session
 * authentication and role guards. The authenticated principal and the raw token are
 * stored in the request context for the handlers.
 *
 * @dependencies
 * - internal/app: session validation and the role authorizer.
 */

package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/transfa/agentpay-service/internal/app"
	"github.com/transfa/agentpay-service/internal/domain"
)

// Authenticator validates a presented session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Principal, error)
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	principalKey    contextKey = "principal"
	sessionTokenKey contextKey = "sessionToken"
)

// SessionAuthMiddleware rejects requests without a current session token.
func SessionAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Authorization header required")
				return
			}

			principal, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, app.ErrSessionInvalid):
					writeError(w, http.StatusUnauthorized, codeInvalidSession, app.ErrSessionInvalid.Error())
				case errors.Is(err, app.ErrUnauthenticated):
					writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Invalid or expired token")
				default:
					log.Printf("level=error component=api msg=\"session lookup failed\" path=%s err=%v", r.URL.Path, err)
					writeError(w, http.StatusInternalServerError, codeInternal, internalErrorMessage)
				}
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			ctx = context.WithValue(ctx, sessionTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles lets the request through only for the listed roles.
func RequireRoles(resource string, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := GetPrincipal(r.Context())
			if err := app.Authorize(principal, resource, roles...); err != nil {
				writeAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal retrieves the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) (*domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*domain.Principal)
	return principal, ok && principal != nil
}

func getSessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

func bearerToken(authHeader string) (string, bool) {
	if len(authHeader) < len("Bearer ") || !strings.EqualFold(authHeader[:len("Bearer ")], "Bearer ") {
		return "", false
	}

	token := strings.TrimSpace(authHeader[len("Bearer "):])
	if token == "" {
		return "", false
	}

	return token, true
}
