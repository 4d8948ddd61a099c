package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasRequiredRole(t *testing.T) {
	cases := []struct {
		name    string
		role    string
		allowed []string
		want    bool
	}{
		{name: "owner satisfies admin", role: RoleOwner, allowed: []string{RoleAdmin}, want: true},
		{name: "admin satisfies admin", role: RoleAdmin, allowed: []string{RoleAdmin}, want: true},
		{name: "member below admin", role: RoleMember, allowed: []string{RoleAdmin}, want: false},
		{name: "admin below owner", role: RoleAdmin, allowed: []string{RoleOwner}, want: false},
		{name: "lowest allowed role wins", role: RoleMember, allowed: []string{RoleOwner, RoleMember}, want: true},
		{name: "case and space insensitive", role: " owner ", allowed: []string{"admin"}, want: true},
		{name: "empty allowed list", role: RoleOwner, allowed: nil, want: false},
		{name: "unknown role", role: "SUPERUSER", allowed: []string{RoleMember}, want: false},
		{name: "unknown allowed role ignored", role: RoleOwner, allowed: []string{"SUPERUSER"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasRequiredRole(tc.role, tc.allowed...))
		})
	}
}

func TestHasRequiredRoleFollowsRank(t *testing.T) {
	roles := []string{RoleMember, RoleAdmin, RoleOwner}
	for _, role := range roles {
		for _, allowed := range roles {
			assert.Equal(t, Rank(role) >= Rank(allowed), HasRequiredRole(role, allowed), "%s vs %s", role, allowed)
		}
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("guest")
	require.ErrorIs(t, err, ErrInvalidRole)
}
