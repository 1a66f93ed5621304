// Package middleware provides HTTP middleware for the petition API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/httputil"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// CredentialHeader carries the session token.
const CredentialHeader = "X-Authorization"

type callerKey struct{}

// caller is the outcome of resolving the request credential. err is set when
// a credential was presented but did not resolve.
type caller struct {
	id  int64
	err error
}

// AuthMiddleware resolves the credential header once per request. It never
// rejects on its own: handlers decide whether a caller is required, after
// validating their input.
type AuthMiddleware struct {
	gate   *auth.Gate
	logger *logging.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(gate *auth.Gate, logger *logging.Logger) *AuthMiddleware {
	return &AuthMiddleware{gate: gate, logger: logger}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := strings.TrimSpace(r.Header.Get(CredentialHeader))
		if credential == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		id, err := m.gate.Authenticate(ctx, credential)
		switch {
		case err == nil:
			ctx = logging.WithUserID(ctx, id)
			ctx = context.WithValue(ctx, callerKey{}, caller{id: id})
		case apperrors.IsUnauthenticated(err):
			m.logger.LogSecurityEvent(ctx, "invalid_credential", map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			})
			ctx = context.WithValue(ctx, callerKey{}, caller{err: err})
		default:
			m.logger.WithContext(ctx).WithError(err).Error("credential resolution failed")
			httputil.WriteServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID returns the authenticated caller, or 0 for anonymous requests.
func CallerID(ctx context.Context) int64 {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c.id
}

// RequireCaller returns the authenticated caller or Unauthenticated.
func RequireCaller(ctx context.Context) (int64, error) {
	c, ok := ctx.Value(callerKey{}).(caller)
	if !ok {
		return 0, apperrors.Unauthenticated("missing credential")
	}
	if c.err != nil {
		return 0, c.err
	}
	return c.id, nil
}
