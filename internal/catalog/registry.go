package catalog

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/curalink/signchain/model"
)

// snapshot is an immutable collection of configurations indexed by ID.
type snapshot struct {
	workflows map[string]model.WorkflowConfiguration
	checksum  string
}

// Registry is a read-optimized, thread-safe store of loaded workflow
// configurations. It uses atomic pointer swap for lock-free concurrent
// reads; configurations are never mutated after load.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given configurations.
func NewRegistry(configs []model.WorkflowConfiguration) *Registry {
	r := &Registry{}
	r.Replace(configs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given configurations.
func (r *Registry) Replace(configs []model.WorkflowConfiguration) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowConfiguration, len(configs)),
	}

	var checksumParts []string
	for _, cfg := range configs {
		s.workflows[cfg.ID] = cfg
		checksumParts = append(checksumParts, cfg.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the workflow configuration with the given ID.
func (r *Registry) Get(workflowID string) (model.WorkflowConfiguration, bool) {
	cfg, ok := r.current().workflows[workflowID]
	return cfg, ok
}

// All returns all configurations sorted by ID.
func (r *Registry) All() []model.WorkflowConfiguration {
	s := r.current()
	configs := make([]model.WorkflowConfiguration, 0, len(s.workflows))
	for _, cfg := range s.workflows {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

// Len returns the number of loaded configurations.
func (r *Registry) Len() int {
	return len(r.current().workflows)
}

// Checksum returns the combined checksum of all loaded configurations.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
