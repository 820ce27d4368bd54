package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curalink/signchain/model"
)

// PgInstanceStore is a PostgreSQL-backed InstanceStore using pgx/v5.
type PgInstanceStore struct {
	pool *pgxpool.Pool
}

// NewPgInstanceStore creates a new PostgreSQL instance store.
func NewPgInstanceStore(pool *pgxpool.Pool) *PgInstanceStore {
	return &PgInstanceStore{pool: pool}
}

// Create inserts a new workflow instance.
func (s *PgInstanceStore) Create(ctx context.Context, inst model.WorkflowInstance) error {
	completedJSON, pendingJSON, signaturesJSON, metadataJSON, err := marshalInstanceColumns(inst)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, workflow_id, tenant_id, document_id, status,
			completed_steps, pending_steps, signatures, metadata,
			escalate_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)`,
		inst.ID, inst.WorkflowID, inst.TenantID, inst.DocumentID, inst.Status,
		completedJSON, pendingJSON, signaturesJSON, metadataJSON,
		inst.EscalateAt, inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return model.NewStoreUnavailableError(fmt.Errorf("insert workflow instance: %w", err))
	}
	return nil
}

// Get retrieves a workflow instance by ID, scoped to tenant.
func (s *PgInstanceStore) Get(ctx context.Context, tenantID, instanceID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, tenant_id, document_id, status,
		       completed_steps, pending_steps, signatures, metadata,
		       escalate_at, version, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1 AND tenant_id = $2`,
		instanceID, tenantID,
	)

	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	if err != nil {
		return model.WorkflowInstance{}, model.NewStoreUnavailableError(fmt.Errorf("query workflow instance: %w", err))
	}
	return inst, nil
}

// Update persists an updated instance with optimistic locking.
func (s *PgInstanceStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	completedJSON, pendingJSON, signaturesJSON, metadataJSON, err := marshalInstanceColumns(inst)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			status = $1,
			completed_steps = $2,
			pending_steps = $3,
			signatures = $4,
			metadata = $5,
			escalate_at = $6,
			version = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10`,
		inst.Status, completedJSON, pendingJSON, signaturesJSON, metadataJSON,
		inst.EscalateAt, inst.Version+1, inst.UpdatedAt,
		inst.ID, inst.Version,
	)
	if err != nil {
		return model.NewStoreUnavailableError(fmt.Errorf("update workflow instance: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConcurrentModificationError(inst.ID)
	}
	return nil
}

// AppendAudit adds an event to the workflow audit trail.
func (s *PgInstanceStore) AppendAudit(ctx context.Context, event model.AuditEvent) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_audit_events (
			id, instance_id, action, user_id, user_name, user_role, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.InstanceID, event.Action, event.UserID,
		event.UserName, event.UserRole, detailsJSON, event.Timestamp,
	)
	if err != nil {
		return model.NewStoreUnavailableError(fmt.Errorf("insert audit event: %w", err))
	}
	return nil
}

// GetAudit retrieves all audit events for an instance in chronological
// order.
func (s *PgInstanceStore) GetAudit(ctx context.Context, tenantID, instanceID string) ([]model.AuditEvent, error) {
	// Verify tenant access.
	if _, err := s.Get(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, action, user_id, user_name, user_role, details, created_at
		FROM workflow_audit_events
		WHERE instance_id = $1
		ORDER BY created_at ASC`,
		instanceID,
	)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Errorf("query audit events: %w", err))
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var evt model.AuditEvent
		var detailsJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.InstanceID, &evt.Action, &evt.UserID,
			&evt.UserName, &evt.UserRole, &detailsJSON, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if detailsJSON != nil {
			_ = json.Unmarshal(detailsJSON, &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Find returns instances for a tenant matching the filters, newest first.
func (s *PgInstanceStore) Find(ctx context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error) {
	query := `SELECT id, workflow_id, tenant_id, document_id, status,
	                 completed_steps, pending_steps, signatures, metadata,
	                 escalate_at, version, created_at, updated_at
	          FROM workflow_instances
	          WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if filters.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, filters.WorkflowID)
		argIdx++
	}
	if filters.DocumentID != "" {
		query += fmt.Sprintf(" AND document_id = $%d", argIdx)
		args = append(args, filters.DocumentID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.queryInstances(ctx, query, args...)
}

// FindEscalatable returns in-progress instances past their escalation
// deadline, most overdue first.
func (s *PgInstanceStore) FindEscalatable(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	query := `SELECT id, workflow_id, tenant_id, document_id, status,
	                 completed_steps, pending_steps, signatures, metadata,
	                 escalate_at, version, created_at, updated_at
	          FROM workflow_instances
	          WHERE status = 'in_progress' AND escalate_at IS NOT NULL AND escalate_at < $1
	          ORDER BY escalate_at ASC`
	return s.queryInstances(ctx, query, cutoff)
}

// HealthCheck verifies database connectivity.
func (s *PgInstanceStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// queryInstances executes a query and returns workflow instances.
func (s *PgInstanceStore) queryInstances(ctx context.Context, query string, args ...any) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Errorf("query workflow instances: %w", err))
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// marshalInstanceColumns encodes the JSONB columns of an instance row.
func marshalInstanceColumns(inst model.WorkflowInstance) (completed, pending, signatures, metadata []byte, err error) {
	if completed, err = json.Marshal(inst.CompletedSteps); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal completed steps: %w", err)
	}
	if pending, err = json.Marshal(inst.PendingSteps); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal pending steps: %w", err)
	}
	if signatures, err = json.Marshal(inst.Signatures); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal signatures: %w", err)
	}
	if metadata, err = json.Marshal(inst.Metadata); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return completed, pending, signatures, metadata, nil
}

// scanInstance reads one instance row.
func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var completedJSON, pendingJSON, signaturesJSON, metadataJSON []byte

	if err := row.Scan(
		&inst.ID, &inst.WorkflowID, &inst.TenantID, &inst.DocumentID, &inst.Status,
		&completedJSON, &pendingJSON, &signaturesJSON, &metadataJSON,
		&inst.EscalateAt, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return model.WorkflowInstance{}, err
	}

	if completedJSON != nil {
		if err := json.Unmarshal(completedJSON, &inst.CompletedSteps); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal completed steps: %w", err)
		}
	}
	if pendingJSON != nil {
		if err := json.Unmarshal(pendingJSON, &inst.PendingSteps); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal pending steps: %w", err)
		}
	}
	if signaturesJSON != nil {
		if err := json.Unmarshal(signaturesJSON, &inst.Signatures); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal signatures: %w", err)
		}
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &inst.Metadata); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return inst, nil
}
