package models

import (
	"time"

	id "caseguard/pkg/domain"
)

// UserProgramRole grants a user one role inside one program. A user may
// hold different roles in different programs. Revoked rows are kept for
// audit but are invisible to the resolver.
type UserProgramRole struct {
	UserID     id.UserID    `json:"user_id"`
	ProgramID  id.ProgramID `json:"program_id"`
	Role       Role         `json:"role"`
	AssignedAt time.Time    `json:"assigned_at"`
	AssignedBy id.UserID    `json:"assigned_by"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
}

func (r *UserProgramRole) IsActive() bool {
	return r.RevokedAt == nil
}

// ClientAccessBlock is a negative override for one (user, client) pair,
// recorded for conflict-of-interest or safety reasons. A block suppresses
// all access, evaluated before and overriding every positive grant.
type ClientAccessBlock struct {
	UserID    id.UserID   `json:"user_id"`
	ClientID  id.ClientID `json:"client_id"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy id.UserID   `json:"created_by"`
	LiftedAt  *time.Time  `json:"lifted_at,omitempty"`
}

func (b *ClientAccessBlock) IsActive() bool {
	return b.LiftedAt == nil
}

// ScopeSet is the server-side projection of everything a user may see. It
// is derived from stored role assignments on every request; nothing in it
// comes from caller input.
type ScopeSet struct {
	UserID id.UserID
	roles  map[id.ProgramID]Role
}

// NewScopeSet builds a ScopeSet from active role assignments.
func NewScopeSet(userID id.UserID, assignments []*UserProgramRole) *ScopeSet {
	roles := make(map[id.ProgramID]Role, len(assignments))
	for _, a := range assignments {
		if !a.IsActive() || !a.Role.Valid() {
			continue
		}
		roles[a.ProgramID] = Max(roles[a.ProgramID], a.Role)
	}
	return &ScopeSet{UserID: userID, roles: roles}
}

// IsEmpty reports whether the user holds no program role at all. An
// administrative flag with no program roles yields an empty scope.
func (s *ScopeSet) IsEmpty() bool {
	return len(s.roles) == 0
}

// HasProgram reports whether the user holds any role in the program.
func (s *ScopeSet) HasProgram(programID id.ProgramID) bool {
	_, ok := s.roles[programID]
	return ok
}

// RoleIn returns the user's role in a single program.
func (s *ScopeSet) RoleIn(programID id.ProgramID) (Role, bool) {
	r, ok := s.roles[programID]
	return r, ok
}

// EffectiveRole computes the highest-privilege role the user holds across
// the given programs. For a client enrolled in several programs the user
// can see, access level is the maximum, not the role of the program the
// request happened to arrive through.
func (s *ScopeSet) EffectiveRole(programs []id.ProgramID) (Role, bool) {
	var effective Role
	found := false
	for _, p := range programs {
		if r, ok := s.roles[p]; ok {
			effective = Max(effective, r)
			found = true
		}
	}
	return effective, found
}

// Programs returns the programs the user holds a role in.
func (s *ScopeSet) Programs() []id.ProgramID {
	out := make([]id.ProgramID, 0, len(s.roles))
	for p := range s.roles {
		out = append(out, p)
	}
	return out
}

// ProgramRoles returns a copy of the (program, role) pairs for serialization.
func (s *ScopeSet) ProgramRoles() map[id.ProgramID]Role {
	out := make(map[id.ProgramID]Role, len(s.roles))
	for p, r := range s.roles {
		out[p] = r
	}
	return out
}
