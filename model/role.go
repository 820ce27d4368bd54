package model

import "strings"

// Role is an enumerated signer role. Roles arrive from the external
// authentication system and gate which workflow steps an actor may sign.
type Role string

// Known roles. The permission policy table is validated against this set at
// startup so that capability grants never reference a role that cannot
// occur.
const (
	RolePhysician   Role = "physician"
	RoleNurse       Role = "nurse"
	RolePharmacist  Role = "pharmacist"
	RoleDietician   Role = "dietician"
	RoleTherapist   Role = "therapist"
	RoleCoordinator Role = "coordinator"
	RoleSupervisor  Role = "supervisor"
	RoleAdmin       Role = "admin"
	RoleSystem      Role = "system"
)

var knownRoles = map[Role]bool{
	RolePhysician:   true,
	RoleNurse:       true,
	RolePharmacist:  true,
	RoleDietician:   true,
	RoleTherapist:   true,
	RoleCoordinator: true,
	RoleSupervisor:  true,
	RoleAdmin:       true,
	RoleSystem:      true,
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return knownRoles[r]
}

// ParseRole normalizes and validates a role string. The second return value
// is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// CapabilitySet is a set of capabilities granted to a role. Each key is a
// capability string (e.g. "workflow:cancel") and may include wildcards
// (e.g. "workflow:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities (including via wildcards).
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
// Examples:
//
//	"*"            matches anything
//	"workflow:*"   matches "workflow:cancel"
//	"workflow"     does NOT match "workflow:cancel" (exact only, no wildcard)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1] // "workflow:*" → "workflow:"
	return strings.HasPrefix(cap, prefix)
}
