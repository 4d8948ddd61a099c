package orgcontext

import (
	"context"
	"testing"
)

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{UserID: "u-1", OrgID: "org-1", Role: "ADMIN"})

	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatalf("expected principal in context")
	}
	if principal.Role != "ADMIN" {
		t.Fatalf("expected role ADMIN, got %s", principal.Role)
	}

	orgID, ok := OrgIDFromContext(ctx)
	if !ok || orgID != "org-1" {
		t.Fatalf("expected org-1, got %q", orgID)
	}
}

func TestPrincipalMissingUser(t *testing.T) {
	ctx := context.WithValue(context.Background(), PrincipalContextKey{}, Principal{OrgID: "org-1"})
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("expected principal without user to be rejected")
	}
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org on empty context")
	}
}
