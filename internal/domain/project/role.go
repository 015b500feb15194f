package project

import "strings"

// Role is a member's role inside one project.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func AllRoles() []Role {
	return []Role{RoleAdmin, RoleMember}
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// ParseRole accepts a role name case-insensitively and rejects unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// RoleSet is the set of roles a route accepts. The empty set accepts any member.
type RoleSet map[Role]struct{}

func Roles(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func (s RoleSet) Allows(r Role) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[r]
	return ok
}
