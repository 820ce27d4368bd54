package workflow

import (
	"context"
	"time"

	"github.com/curalink/signchain/model"
)

// InstanceStore persists workflow instances and their audit trails. It is
// the only mutable shared resource; every writer goes through the engine.
type InstanceStore interface {
	// Create persists a new workflow instance.
	Create(ctx context.Context, instance model.WorkflowInstance) error

	// Get retrieves a workflow instance by ID, scoped to a tenant.
	// Returns NOT_FOUND if the instance doesn't exist or belongs to a
	// different tenant.
	Get(ctx context.Context, tenantID, instanceID string) (model.WorkflowInstance, error)

	// Update persists an updated workflow instance with optimistic locking.
	// The instance version must match the stored version; on mismatch the
	// store returns CONCURRENT_MODIFICATION and leaves the record untouched.
	// On success the stored version is incremented.
	Update(ctx context.Context, instance model.WorkflowInstance) error

	// AppendAudit adds an event to the instance's append-only audit trail.
	AppendAudit(ctx context.Context, event model.AuditEvent) error

	// GetAudit retrieves the audit trail for an instance in chronological
	// order, scoped to a tenant.
	GetAudit(ctx context.Context, tenantID, instanceID string) ([]model.AuditEvent, error)

	// Find returns instances for a tenant matching the filters, newest
	// first.
	Find(ctx context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error)

	// FindEscalatable returns in-progress instances whose escalate_at is
	// before the cutoff. Instances already escalated are excluded; the
	// monitor never re-escalates them.
	FindEscalatable(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error)
}

// ListFilters are optional filters for listing workflow instances.
type ListFilters struct {
	WorkflowID string
	DocumentID string
	Status     string
	Limit      int
	Offset     int
}
