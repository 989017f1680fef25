package models

import (
	dErrors "caseguard/pkg/domain-errors"
)

// Role is a program-scoped privilege level. The administrative flag on a
// user account is deliberately not a Role: it grants configuration surfaces
// only and never client data access.
type Role string

const (
	RoleFrontDesk      Role = "front_desk"
	RoleDirectService  Role = "direct_service"
	RoleProgramManager Role = "program_manager"
)

// roleRanks is the explicit total order for "highest role wins". Comparison
// goes through Rank, never through string ordering.
var roleRanks = map[Role]int{
	RoleFrontDesk:      1,
	RoleDirectService:  2,
	RoleProgramManager: 3,
}

// Rank returns the privilege rank of the role. Unknown roles rank zero,
// below every real role, so they fail closed in comparisons.
func (r Role) Rank() int {
	return roleRanks[r]
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Max returns the higher-privilege of two roles.
func Max(a, b Role) Role {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseRole validates an externally supplied role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown role %q", s)
	}
	return r, nil
}
