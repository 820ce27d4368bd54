package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/curalink/signchain/internal/catalog"
	"github.com/curalink/signchain/internal/permission"
	"github.com/curalink/signchain/internal/signature"
	"github.com/curalink/signchain/model"
)

// EscalationReasonTimeout is the audit reason recorded for automatic
// escalations.
const EscalationReasonTimeout = "step timeout"

// WitnessInput carries the witness identity and capture payload supplied
// alongside a step completion.
type WitnessInput struct {
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	Role          model.Role `json:"role"`
	SignatureData string     `json:"signature_data,omitempty"`
}

// Engine drives workflow instances through their lifecycle: creation, step
// completion, cancellation, escalation, and the derived progress and
// completion views. It is the only component that mutates instances; all
// precondition failures are reported before any side effect is applied.
type Engine struct {
	catalog *catalog.Registry
	store   InstanceStore
	signer  signature.Adapter
	perms   *permission.Evaluator
}

// NewEngine creates a workflow engine.
func NewEngine(reg *catalog.Registry, store InstanceStore, signer signature.Adapter, perms *permission.Evaluator) *Engine {
	return &Engine{
		catalog: reg,
		store:   store,
		signer:  signer,
		perms:   perms,
	}
}

// CreateInstance creates a new workflow instance for a document from a
// catalog configuration. The initial pending set is the first wave: all
// steps sharing the minimum order value.
func (e *Engine) CreateInstance(
	ctx context.Context,
	actor *model.ActorContext,
	workflowID, documentID string,
	metadata model.InstanceMetadata,
) (model.WorkflowInstance, error) {
	cfg, ok := e.catalog.Get(workflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewConfigurationNotFoundError(workflowID)
	}
	if len(cfg.Steps) == 0 {
		return model.WorkflowInstance{}, model.NewInvalidConfigurationError(
			"workflow configuration " + workflowID + " defines no steps",
		)
	}

	now := time.Now().UTC()
	pending := nextWave(cfg, nil)

	inst := model.WorkflowInstance{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		TenantID:       actor.TenantID,
		DocumentID:     documentID,
		Status:         model.InstanceStatusInProgress,
		CompletedSteps: []string{},
		PendingSteps:   pending,
		Signatures:     []model.WorkflowSignature{},
		Metadata:       metadata,
		EscalateAt:     escalationDeadline(cfg, pending, now),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}

	if err := e.store.Create(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}

	if err := e.appendAudit(ctx, inst.ID, model.AuditActionStarted, actor, map[string]any{
		"workflow_id": workflowID,
		"document_id": documentID,
	}); err != nil {
		return model.WorkflowInstance{}, err
	}

	return inst, nil
}

// CompleteStep completes a signature step on behalf of the actor. The
// preconditions are checked in a fixed order, each with its own failure
// code, before the signature is requested. After the adapter returns, the
// instance is re-loaded and re-checked against the latest stored state, so
// a cancellation or competing completion that landed during signing is
// never overwritten.
func (e *Engine) CompleteStep(
	ctx context.Context,
	actor *model.ActorContext,
	instanceID, stepID string,
	signatureData string,
	witness *WitnessInput,
) (model.WorkflowInstance, error) {
	inst, err := e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	cfg, ok := e.catalog.Get(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewConfigurationNotFoundError(inst.WorkflowID)
	}

	if _, err := e.checkCompletionPreconditions(cfg, inst, stepID, actor, witness); err != nil {
		return model.WorkflowInstance{}, err
	}

	// Suspension point: everything checked so far can change while the
	// signing backend is working.
	signedAt := time.Now().UTC()
	record, err := e.signer.Sign(ctx, signature.Payload{
		InstanceID: inst.ID,
		StepID:     stepID,
		DocumentID: inst.DocumentID,
		Timestamp:  signedAt,
	})
	if err != nil {
		return model.WorkflowInstance{}, model.NewSigningFailedError(err)
	}

	var witnessSig *model.WitnessSignature
	if witness != nil {
		witnessRecord, err := e.signer.Sign(ctx, signature.Payload{
			InstanceID: inst.ID,
			StepID:     stepID,
			DocumentID: inst.DocumentID,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			return model.WorkflowInstance{}, model.NewSigningFailedError(err)
		}
		witnessSig = &model.WitnessSignature{
			SignatureID:   witnessRecord.SignatureID,
			Algorithm:     witnessRecord.Algorithm,
			UserID:        witness.UserID,
			Name:          witness.Name,
			Role:          witness.Role,
			SignatureData: witness.SignatureData,
			Timestamp:     witnessRecord.Timestamp,
		}
	}

	// Re-load and re-validate against the latest stored state before
	// applying anything.
	inst, err = e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if _, err := e.checkCompletionPreconditions(cfg, inst, stepID, actor, witness); err != nil {
		return model.WorkflowInstance{}, err
	}

	// Apply the completion.
	now := time.Now().UTC()
	inst.CompletedSteps = append(inst.CompletedSteps, stepID)
	inst.Signatures = append(inst.Signatures, model.WorkflowSignature{
		StepID:        stepID,
		SignatureID:   record.SignatureID,
		Algorithm:     record.Algorithm,
		SignerUserID:  actor.UserID,
		SignerName:    actor.Name,
		SignerRole:    actor.Role,
		SignatureData: signatureData,
		Timestamp:     record.Timestamp,
		Witness:       witnessSig,
	})
	inst.PendingSteps = nextWave(cfg, inst.CompletedSteps)
	inst.UpdatedAt = now

	report := evaluateCompletion(cfg, inst.CompletedSteps)
	if report.IsComplete {
		inst.Status = model.InstanceStatusCompleted
		inst.PendingSteps = []string{}
		inst.EscalateAt = nil
	} else {
		inst.EscalateAt = escalationDeadline(cfg, inst.PendingSteps, now)
	}

	if err := e.store.Update(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	details := map[string]any{
		"step_id":      stepID,
		"signature_id": record.SignatureID,
	}
	if witnessSig != nil {
		details["witness_user_id"] = witnessSig.UserID
	}
	if err := e.appendAudit(ctx, inst.ID, model.AuditActionStepCompleted, actor, details); err != nil {
		return model.WorkflowInstance{}, err
	}

	return inst, nil
}

// checkCompletionPreconditions validates a step completion attempt against
// an instance snapshot. The check order is fixed; each violation has a
// distinct code so callers can act on the exact failure.
func (e *Engine) checkCompletionPreconditions(
	cfg model.WorkflowConfiguration,
	inst model.WorkflowInstance,
	stepID string,
	actor *model.ActorContext,
	witness *WitnessInput,
) (*model.WorkflowStep, error) {
	if inst.Terminal() {
		return nil, model.NewInstanceTerminalError(inst.ID, inst.Status)
	}
	if inst.Status == model.InstanceStatusEscalated && cfg.HardStopOnEscalation {
		return nil, model.NewInstanceEscalatedError(inst.ID)
	}

	step := cfg.Step(stepID)
	if step == nil {
		return nil, model.NewUnknownStepError(stepID, cfg.ID)
	}

	// Covers both not-yet-reachable and already-completed steps.
	if !inst.IsPending(stepID) {
		return nil, model.NewStepNotReadyError(stepID)
	}

	if !e.perms.CanActOnStep(actor.Role, *step) {
		return nil, model.NewPermissionDeniedError(
			"role " + string(actor.Role) + " may not complete step " + stepID,
		)
	}

	if step.WitnessRequired && witness == nil {
		return nil, model.NewWitnessRequiredError(stepID)
	}
	if !step.WitnessRequired && witness != nil {
		return nil, model.NewWitnessNotAllowedError(stepID)
	}

	return step, nil
}

// Cancel cancels a workflow instance. Terminal; no further mutation is
// possible afterwards.
func (e *Engine) Cancel(
	ctx context.Context,
	actor *model.ActorContext,
	instanceID, reason string,
) (model.WorkflowInstance, error) {
	if !e.perms.CanCancel(actor.Role) {
		return model.WorkflowInstance{}, model.NewPermissionDeniedError(
			"role " + string(actor.Role) + " may not cancel workflow instances",
		)
	}

	inst, err := e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Terminal() {
		return model.WorkflowInstance{}, model.NewInstanceTerminalError(inst.ID, inst.Status)
	}

	inst.Status = model.InstanceStatusCancelled
	inst.EscalateAt = nil
	inst.UpdatedAt = time.Now().UTC()

	if err := e.store.Update(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	if err := e.appendAudit(ctx, inst.ID, model.AuditActionCancelled, actor, map[string]any{
		"reason": reason,
	}); err != nil {
		return model.WorkflowInstance{}, err
	}

	return inst, nil
}

// Escalate marks an instance as needing attention because of the given
// step. Pending steps stay completable unless the configuration hard-stops
// on escalation; the pending set itself is never cleared.
func (e *Engine) Escalate(
	ctx context.Context,
	actor *model.ActorContext,
	instanceID, stepID, reason string,
) (model.WorkflowInstance, error) {
	if !e.perms.CanEscalate(actor.Role) {
		return model.WorkflowInstance{}, model.NewPermissionDeniedError(
			"role " + string(actor.Role) + " may not escalate workflow instances",
		)
	}

	inst, err := e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Terminal() {
		return model.WorkflowInstance{}, model.NewInstanceTerminalError(inst.ID, inst.Status)
	}

	cfg, ok := e.catalog.Get(inst.WorkflowID)
	if !ok {
		return model.WorkflowInstance{}, model.NewConfigurationNotFoundError(inst.WorkflowID)
	}
	if cfg.Step(stepID) == nil {
		return model.WorkflowInstance{}, model.NewUnknownStepError(stepID, cfg.ID)
	}

	inst.Status = model.InstanceStatusEscalated
	inst.UpdatedAt = time.Now().UTC()

	if err := e.store.Update(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	if err := e.appendAudit(ctx, inst.ID, model.AuditActionEscalated, actor, map[string]any{
		"step_id": stepID,
		"reason":  reason,
	}); err != nil {
		return model.WorkflowInstance{}, err
	}

	return inst, nil
}

// GetInstance returns an instance, scoped to the actor's tenant.
func (e *Engine) GetInstance(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error) {
	return e.store.Get(ctx, actor.TenantID, instanceID)
}

// GetAuditTrail returns an instance's audit trail in chronological order.
func (e *Engine) GetAuditTrail(ctx context.Context, actor *model.ActorContext, instanceID string) ([]model.AuditEvent, error) {
	return e.store.GetAudit(ctx, actor.TenantID, instanceID)
}

// GetProgress returns the derived progress view of an instance. Pure read;
// no mutation.
func (e *Engine) GetProgress(ctx context.Context, actor *model.ActorContext, instanceID string) (model.Progress, error) {
	inst, err := e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.Progress{}, err
	}

	cfg, ok := e.catalog.Get(inst.WorkflowID)
	if !ok {
		return model.Progress{}, model.NewConfigurationNotFoundError(inst.WorkflowID)
	}

	total := len(cfg.Steps)
	completed := len(inst.CompletedSteps)
	var pct float64
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	return model.Progress{
		TotalSteps:      total,
		CompletedCount:  completed,
		PendingCount:    len(inst.PendingSteps),
		ProgressPercent: pct,
		NextSteps:       append([]string{}, inst.PendingSteps...),
	}, nil
}

// ValidateCompletion reports whether the instance currently satisfies its
// completion criteria and which steps are still missing. Usable before or
// after the terminal transition.
func (e *Engine) ValidateCompletion(ctx context.Context, actor *model.ActorContext, instanceID string) (model.CompletionReport, error) {
	inst, err := e.store.Get(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.CompletionReport{}, err
	}

	cfg, ok := e.catalog.Get(inst.WorkflowID)
	if !ok {
		return model.CompletionReport{}, model.NewConfigurationNotFoundError(inst.WorkflowID)
	}

	return evaluateCompletion(cfg, inst.CompletedSteps), nil
}

// List returns instance summaries for the actor's tenant.
func (e *Engine) List(
	ctx context.Context,
	actor *model.ActorContext,
	filters model.InstanceFilters,
) ([]model.InstanceSummary, int, error) {
	storeFilters := ListFilters{
		WorkflowID: filters.WorkflowID,
		DocumentID: filters.DocumentID,
		Status:     filters.Status,
		Limit:      filters.PageSize,
		Offset:     (filters.Page - 1) * filters.PageSize,
	}
	if storeFilters.Limit <= 0 {
		storeFilters.Limit = 20
	}
	if storeFilters.Offset < 0 {
		storeFilters.Offset = 0
	}

	instances, err := e.store.Find(ctx, actor.TenantID, storeFilters)
	if err != nil {
		return nil, 0, err
	}

	// Total count (same filters, no pagination).
	all, err := e.store.Find(ctx, actor.TenantID, ListFilters{
		WorkflowID: filters.WorkflowID,
		DocumentID: filters.DocumentID,
		Status:     filters.Status,
	})
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		name := inst.WorkflowID
		total := 0
		if cfg, ok := e.catalog.Get(inst.WorkflowID); ok {
			name = cfg.Name
			total = len(cfg.Steps)
		}
		summaries = append(summaries, model.InstanceSummary{
			ID:             inst.ID,
			WorkflowID:     inst.WorkflowID,
			Name:           name,
			DocumentID:     inst.DocumentID,
			Status:         inst.Status,
			CompletedCount: len(inst.CompletedSteps),
			TotalSteps:     total,
			CreatedAt:      inst.CreatedAt,
			UpdatedAt:      inst.UpdatedAt,
		})
	}

	return summaries, len(all), nil
}

// ProcessEscalations escalates every overdue pending step of every
// in-progress instance past its escalation deadline, attributed to the
// system actor. Advisory automation; it never cancels work in progress.
// Returns the number of escalations applied.
func (e *Engine) ProcessEscalations(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	overdue, err := e.store.FindEscalatable(ctx, now)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, inst := range overdue {
		cfg, ok := e.catalog.Get(inst.WorkflowID)
		if !ok {
			continue
		}

		actor := model.SystemActor
		actor.TenantID = inst.TenantID

		for _, stepID := range inst.PendingSteps {
			step := cfg.Step(stepID)
			if step == nil {
				continue
			}
			timeout, ok := step.TimeoutDuration()
			if !ok || now.Sub(inst.UpdatedAt) <= timeout {
				continue
			}
			if _, err := e.Escalate(ctx, &actor, inst.ID, stepID, EscalationReasonTimeout); err != nil {
				// Keep going; the next tick retries anything left over.
				break
			}
			escalated++
			// One escalation flips the instance status; further overdue
			// steps on it wait for manual attention.
			break
		}
	}
	return escalated, nil
}

// appendAudit creates and persists one audit event attributed to the actor.
func (e *Engine) appendAudit(
	ctx context.Context,
	instanceID, action string,
	actor *model.ActorContext,
	details map[string]any,
) error {
	return e.store.AppendAudit(ctx, model.AuditEvent{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Action:     action,
		UserID:     actor.UserID,
		UserName:   actor.Name,
		UserRole:   actor.Role,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	})
}

// nextWave computes the pending set: all steps whose order equals the
// minimum order among not-yet-completed steps. Steps sharing an order are
// concurrently actionable.
func nextWave(cfg model.WorkflowConfiguration, completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	minOrder := 0
	found := false
	for _, step := range cfg.Steps {
		if done[step.ID] {
			continue
		}
		if !found || step.Order < minOrder {
			minOrder = step.Order
			found = true
		}
	}
	if !found {
		return []string{}
	}

	var wave []string
	for _, step := range cfg.Steps {
		if !done[step.ID] && step.Order == minOrder {
			wave = append(wave, step.ID)
		}
	}
	return wave
}

// evaluateCompletion applies the completion criteria: every critical step
// must be completed, and when all_steps_required is set every required
// step must be as well.
func evaluateCompletion(cfg model.WorkflowConfiguration, completed []string) model.CompletionReport {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	var missingCritical []string
	for _, id := range cfg.CompletionCriteria.CriticalStepsRequired {
		if !done[id] {
			missingCritical = append(missingCritical, id)
		}
	}

	var missingRequired []string
	for _, step := range cfg.Steps {
		if step.Required && !done[step.ID] {
			missingRequired = append(missingRequired, step.ID)
		}
	}

	missing := append([]string{}, missingCritical...)
	if cfg.CompletionCriteria.AllStepsRequired {
		for _, id := range missingRequired {
			if !contains(missing, id) {
				missing = append(missing, id)
			}
		}
	}

	isComplete := len(missingCritical) == 0 &&
		(!cfg.CompletionCriteria.AllStepsRequired || len(missingRequired) == 0)

	return model.CompletionReport{
		IsComplete:   isComplete,
		MissingSteps: missing,
	}
}

// escalationDeadline returns the earliest deadline among pending steps
// that define a timeout, measured from the last instance update. Nil when
// no pending step has one.
func escalationDeadline(cfg model.WorkflowConfiguration, pending []string, updatedAt time.Time) *time.Time {
	var earliest *time.Time
	for _, id := range pending {
		step := cfg.Step(id)
		if step == nil {
			continue
		}
		timeout, ok := step.TimeoutDuration()
		if !ok {
			continue
		}
		deadline := updatedAt.Add(timeout)
		if earliest == nil || deadline.Before(*earliest) {
			earliest = &deadline
		}
	}
	return earliest
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
