package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/curalink/signchain/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadPolicy reads a YAML file mapping roles to capability strings and
// builds an Evaluator from it. The file is read once at startup;
// the resulting table is immutable.
func LoadPolicy(path string) (*Evaluator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("permission: reading policy file %s: %w", path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("permission: parsing policy file %s: %w", path, err)
	}

	table := make(map[model.Role]model.CapabilitySet, len(p.Roles))
	for roleName, caps := range p.Roles {
		role, ok := model.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("permission: policy file %s grants capabilities to unknown role %q", path, roleName)
		}
		set := make(model.CapabilitySet, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		table[role] = set
	}

	return NewEvaluator(table)
}

// DefaultPolicy returns the built-in role→capability table used when no
// policy file is configured. Admins hold everything, supervisors may
// cancel and escalate, and the system identity may escalate on timeouts.
func DefaultPolicy() map[model.Role]model.CapabilitySet {
	return map[model.Role]model.CapabilitySet{
		model.RoleAdmin:      {"*": true},
		model.RoleSupervisor: {CapCancel: true, CapEscalate: true},
		model.RoleSystem:     {CapEscalate: true},
	}
}
