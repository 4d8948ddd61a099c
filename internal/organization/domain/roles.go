package domain

import "strings"

const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
	RoleOwner  = "OWNER"
)

var roleRank = map[string]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank orders roles MEMBER < ADMIN < OWNER. Unknown roles rank 0.
func Rank(role string) int {
	return roleRank[strings.ToUpper(strings.TrimSpace(role))]
}

// ParseRole normalizes role or returns ErrInvalidRole.
func ParseRole(role string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(role))
	if _, ok := roleRank[normalized]; !ok {
		return "", ErrInvalidRole
	}
	return normalized, nil
}

// HasRequiredRole is true when role ranks at least as high as any of allowed.
func HasRequiredRole(role string, allowed ...string) bool {
	rank := Rank(role)
	if rank == 0 {
		return false
	}
	for _, candidate := range allowed {
		if required := Rank(candidate); required > 0 && rank >= required {
			return true
		}
	}
	return false
}
