package models

import (
	"strings"

	"github.com/scouthub/backend/internal/apperr"
)

// Role represents an account role. Roles form a strict total order used for
// authorization checks: admin > staff > unit_leader > scout > user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleUnitLeader Role = "unit_leader"
	RoleScout      Role = "scout"
	RoleUser       Role = "user"
)

var roleLevels = map[Role]int{
	RoleAdmin:      4,
	RoleStaff:      3,
	RoleUnitLeader: 2,
	RoleScout:      1,
	RoleUser:       0,
}

// Level returns the rank of the role. Unknown roles rank lowest (0).
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// HasAtLeast reports whether actor ranks at or above required.
func HasAtLeast(actor, required Role) bool {
	return actor.Level() >= required.Level()
}

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperr.Validation("models.ParseRole", "invalid role: "+s)
	}
	return r, nil
}

// Roles returns all defined roles, highest first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleStaff, RoleUnitLeader, RoleScout, RoleUser}
}
