package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/avaprime/spooky-logic/utils"
	"go.uber.org/zap"
)

// TokenValidator verifies a bearer token
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware guards the mutating control plane routes. A nil validator
// disables authentication: every guard passes and tenants come from the
// X-Tenant-ID header only.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, logger: logger}
}

// Enabled reports whether tokens are checked
func (m *AuthMiddleware) Enabled() bool {
	return m.validator != nil
}

const tenantHeader = "X-Tenant-ID"

// RequireAuth rejects requests without a valid bearer token with 401. The
// token's claims and tenant are stored in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			m.reject(w, r, http.StatusUnauthorized, "Missing or invalid authorization")
			return
		}

		ctx := r.Context()
		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.reject(w, r, http.StatusUnauthorized, "Invalid or expired token", zap.Error(err))
			return
		}

		ctx = WithClaims(ctx, claims)
		if claims.Tenant != "" {
			ctx = WithTenant(ctx, claims.Tenant)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractTenant resolves the tenant of a request that RequireAuth has not
// already resolved. Claims win over the X-Tenant-ID header.
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if GetTenantFromContext(ctx) == "" {
			if claims := GetClaimsFromContext(ctx); claims != nil && claims.Tenant != "" {
				ctx = WithTenant(ctx, claims.Tenant)
			} else if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
				ctx = WithTenant(ctx, tenant)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits callers holding any of roles. It must run after
// RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			claims := GetClaimsFromContext(r.Context())
			switch {
			case claims == nil:
				m.reject(w, r, http.StatusUnauthorized, "Authentication required")
			case !claims.HasRole(roles...):
				m.reject(w, r, http.StatusForbidden, "Insufficient permissions",
					zap.String("subject", claims.Subject),
					zap.Strings("required_roles", roles),
					zap.Strings("roles", claims.Roles))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, status int, message string, fields ...zap.Field) {
	fields = append(fields,
		zap.String("request_id", GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path))
	m.logger.Warn("request rejected: "+message, fields...)
	_ = utils.WriteError(w, status, message, nil)
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
