package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Subject string
	Method  string // "api_key" or "jwt"
	IsAdmin bool
}

// Authenticate returns an HTTP middleware that validates admin credentials.
// It supports two methods:
//
//  1. An admin API key via the X-API-Key header
//  2. A JWT Bearer token via the Authorization header
//
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var admin *service.Admin

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				a, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					msg := "Invalid API key"
					if errors.Is(err, service.ErrKeyRevoked) {
						msg = "API key has been revoked"
					}
					writeAuthError(w, http.StatusUnauthorized, msg)
					return
				}
				admin = a
			}

			if admin == nil {
				authHeader := r.Header.Get("Authorization")
				if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
					a, err := authSvc.ValidateJWT(r.Context(), token)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid token")
						return
					}
					admin = a
				}
			}

			if admin == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Subject: admin.Subject,
				Method:  admin.Method,
				IsAdmin: true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// writeAuthError writes the standard error envelope. The handler package
// has its own helper; middleware cannot import it.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, message, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, ctx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message, Context: ctx},
	})
}
