package orgcontext

import (
	"context"
	"strings"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// PrincipalContextKey is the request context key for the authenticated caller.
type PrincipalContextKey struct{}

// Principal is the authenticated caller acting within one organization.
type Principal struct {
	UserID string
	Email  string
	OrgID  string
	Role   string
	KeyID  string
}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, strings.TrimSpace(orgID))
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(OrgContextKey{}).(string); ok && value != "" {
		return value, true
	}
	if principal, ok := PrincipalFromContext(ctx); ok && principal.OrgID != "" {
		return principal.OrgID, true
	}
	return "", false
}

// WithPrincipal stores the caller and its org in the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	ctx = context.WithValue(ctx, PrincipalContextKey{}, principal)
	return WithOrgID(ctx, principal.OrgID)
}

// PrincipalFromContext returns the caller, if authenticated.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(PrincipalContextKey{}).(Principal)
	if !ok || strings.TrimSpace(principal.UserID) == "" {
		return Principal{}, false
	}
	return principal, true
}
