package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/curalink/signchain/model"
)

// MemoryInstanceStore is an in-memory InstanceStore for tests and
// single-process deployments.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance // key: instance ID
	audit     map[string][]model.AuditEvent     // key: instance ID
}

// NewMemoryInstanceStore creates a new in-memory instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]model.WorkflowInstance),
		audit:     make(map[string][]model.AuditEvent),
	}
}

// Create persists a new workflow instance.
func (s *MemoryInstanceStore) Create(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}

	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Get retrieves a workflow instance by ID, scoped to tenant.
func (s *MemoryInstanceStore) Get(_ context.Context, tenantID, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists || inst.TenantID != tenantID {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return cloneInstance(inst), nil
}

// Update persists an updated instance with optimistic locking.
func (s *MemoryInstanceStore) Update(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}

	if existing.Version != inst.Version {
		return model.NewConcurrentModificationError(inst.ID)
	}

	inst.Version++
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// AppendAudit adds an event to the instance's audit trail.
func (s *MemoryInstanceStore) AppendAudit(_ context.Context, event model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[event.InstanceID] = append(s.audit[event.InstanceID], event)
	return nil
}

// GetAudit retrieves all audit events for an instance, ordered by timestamp.
func (s *MemoryInstanceStore) GetAudit(_ context.Context, tenantID, instanceID string) ([]model.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists || inst.TenantID != tenantID {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	events := s.audit[instanceID]
	result := make([]model.AuditEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Find returns instances for a tenant matching the filters.
func (s *MemoryInstanceStore) Find(_ context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if filters.WorkflowID != "" && inst.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.DocumentID != "" && inst.DocumentID != filters.DocumentID {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	// Newest first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.WorkflowInstance{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// FindEscalatable returns in-progress instances past their escalation
// deadline.
func (s *MemoryInstanceStore) FindEscalatable(_ context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status != model.InstanceStatusInProgress {
			continue
		}
		if inst.EscalateAt == nil || !inst.EscalateAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	// Most overdue first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].EscalateAt.Before(*result[j].EscalateAt)
	})

	return result, nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryInstanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// cloneInstance deep-copies an instance so callers can't mutate stored
// state behind the store's back.
func cloneInstance(inst model.WorkflowInstance) model.WorkflowInstance {
	out := inst
	out.CompletedSteps = append([]string(nil), inst.CompletedSteps...)
	out.PendingSteps = append([]string(nil), inst.PendingSteps...)
	out.Signatures = append([]model.WorkflowSignature(nil), inst.Signatures...)
	if inst.EscalateAt != nil {
		t := *inst.EscalateAt
		out.EscalateAt = &t
	}
	if inst.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), inst.Metadata.Tags...)
	}
	if inst.Metadata.DueDate != nil {
		d := *inst.Metadata.DueDate
		out.Metadata.DueDate = &d
	}
	return out
}
