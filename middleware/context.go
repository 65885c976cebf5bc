package middleware

import (
	"context"
	"slices"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	tenantKey
)

// Roles checked by RequireRole
const (
	RoleAdmin    = "admin"
	RoleGovernor = "governor"
)

// Claims are the verified contents of a bearer token
type Claims struct {
	Subject string   `json:"sub"`
	Tenant  string   `json:"tenant,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Issuer  string   `json:"iss"`
	Exp     int64    `json:"exp"`
	Iat     int64    `json:"iat"`
}

// HasRole reports whether the claims carry any of roles
func (c *Claims) HasRole(roles ...string) bool {
	for _, role := range roles {
		if slices.Contains(c.Roles, role) {
			return true
		}
	}
	return false
}

// GetRequestIDFromContext returns the id assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// GetClaimsFromContext returns the caller's claims, or nil when the request
// was not authenticated
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetTenantFromContext returns the tenant resolved by ExtractTenant or
// RequireAuth
func GetTenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey).(string)
	return tenant
}

func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}
