// Package permission maps actor roles to workflow capabilities and provides
// the pure permission gates consulted by the engine before every mutating
// call.
package permission

import (
	"fmt"

	"github.com/curalink/signchain/model"
)

// Capabilities recognized by the engine.
const (
	CapAdmin    = "workflow:admin"
	CapCancel   = "workflow:cancel"
	CapEscalate = "workflow:escalate"
)

// Evaluator answers permission questions from an immutable role→capability
// table. All checks are pure functions of the actor role and the step
// definition; instance readiness is a separate concern checked by the
// engine.
type Evaluator struct {
	table map[model.Role]model.CapabilitySet
}

// NewEvaluator builds an Evaluator from a role→capability table. Every role
// key must be a known role; an unknown key is a configuration mistake and
// fails startup.
func NewEvaluator(table map[model.Role]model.CapabilitySet) (*Evaluator, error) {
	for role := range table {
		if !role.Valid() {
			return nil, fmt.Errorf("permission: policy grants capabilities to unknown role %q", role)
		}
	}

	// Copy so later mutation of the input cannot leak into the evaluator.
	copied := make(map[model.Role]model.CapabilitySet, len(table))
	for role, caps := range table {
		set := make(model.CapabilitySet, len(caps))
		for c := range caps {
			set[c] = true
		}
		copied[role] = set
	}

	return &Evaluator{table: copied}, nil
}

// Capabilities returns the capability set granted to the role. Roles absent
// from the table have no capabilities.
func (e *Evaluator) Capabilities(role model.Role) model.CapabilitySet {
	return e.table[role]
}

// CanActOnStep reports whether an actor with the given role may complete
// the given step: the role matches the step's signer role, or the role
// carries the admin capability.
func (e *Evaluator) CanActOnStep(role model.Role, step model.WorkflowStep) bool {
	if role == step.SignerRole {
		return true
	}
	return e.table[role].Has(CapAdmin)
}

// CanCancel reports whether the role may cancel a workflow instance.
func (e *Evaluator) CanCancel(role model.Role) bool {
	caps := e.table[role]
	return caps.Has(CapCancel) || caps.Has(CapAdmin)
}

// CanEscalate reports whether the role may escalate a workflow instance.
func (e *Evaluator) CanEscalate(role model.Role) bool {
	caps := e.table[role]
	return caps.Has(CapEscalate) || caps.Has(CapAdmin)
}
