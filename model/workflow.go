package model

import "time"

// Workflow instance status constants.
const (
	InstanceStatusCreated    = "created"
	InstanceStatusInProgress = "in_progress"
	InstanceStatusCompleted  = "completed"
	InstanceStatusCancelled  = "cancelled"
	InstanceStatusEscalated  = "escalated"
)

// Audit trail action constants.
const (
	AuditActionStarted       = "started"
	AuditActionStepCompleted = "step_completed"
	AuditActionCancelled     = "cancelled"
	AuditActionEscalated     = "escalated"
)

// WorkflowConfiguration is an immutable template describing the steps and
// completion rules for a class of documents. Configurations are loaded from
// YAML at startup and never mutated at runtime.
type WorkflowConfiguration struct {
	ID    string         `yaml:"id" json:"id"`
	Name  string         `yaml:"name" json:"name"`
	Steps []WorkflowStep `yaml:"steps" json:"steps"`

	CompletionCriteria CompletionCriteria `yaml:"completion_criteria" json:"completion_criteria"`

	// HardStopOnEscalation blocks further step completions once the
	// instance is escalated, until manual resolution.
	HardStopOnEscalation bool `yaml:"hard_stop_on_escalation" json:"hard_stop_on_escalation"`

	// Checksum and SourceFile are set by the catalog loader.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// WorkflowStep is one signature step within a configuration. Steps sharing
// an Order value form a wave and are concurrently actionable; a step becomes
// eligible once every step with a strictly lower order is completed.
type WorkflowStep struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	SignerRole      Role   `yaml:"signer_role" json:"signer_role"`
	Required        bool   `yaml:"required" json:"required"`
	Order           int    `yaml:"order" json:"order"`
	WitnessRequired bool   `yaml:"witness_required" json:"witness_required"`

	// Timeout is a duration string such as "24h". Empty means the step
	// never times out. The catalog validator rejects unparseable values.
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`
}

// TimeoutDuration parses the step timeout. The second return value is false
// when the step defines no timeout or the value does not parse.
func (s WorkflowStep) TimeoutDuration() (time.Duration, bool) {
	if s.Timeout == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// CompletionCriteria determines when an instance transitions to completed.
type CompletionCriteria struct {
	AllStepsRequired      bool     `yaml:"all_steps_required" json:"all_steps_required"`
	CriticalStepsRequired []string `yaml:"critical_steps_required" json:"critical_steps_required"`
}

// Step returns the step with the given ID, or nil if no such step exists.
func (c WorkflowConfiguration) Step(stepID string) *WorkflowStep {
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			return &c.Steps[i]
		}
	}
	return nil
}

// WorkflowInstance is one running execution of a configuration against a
// specific document. Instances are mutated only through the engine.
type WorkflowInstance struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`

	CompletedSteps []string            `json:"completed_steps"`
	PendingSteps   []string            `json:"pending_steps"`
	Signatures     []WorkflowSignature `json:"signatures"`

	Metadata InstanceMetadata `json:"metadata"`

	// EscalateAt is the earliest deadline among pending steps that define a
	// timeout, recomputed on every mutation. Nil when no pending step has a
	// timeout. The escalation monitor queries on this field.
	EscalateAt *time.Time `json:"escalate_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// HasCompleted reports whether the given step is in the completed set.
func (i WorkflowInstance) HasCompleted(stepID string) bool {
	for _, s := range i.CompletedSteps {
		if s == stepID {
			return true
		}
	}
	return false
}

// IsPending reports whether the given step is currently eligible for
// completion.
func (i WorkflowInstance) IsPending(stepID string) bool {
	for _, s := range i.PendingSteps {
		if s == stepID {
			return true
		}
	}
	return false
}

// Terminal reports whether the instance is in a terminal status. Escalated
// is not terminal; escalated instances may still accept completions unless
// the configuration hard-stops.
func (i WorkflowInstance) Terminal() bool {
	return i.Status == InstanceStatusCompleted || i.Status == InstanceStatusCancelled
}

// InstanceMetadata carries caller-supplied document context.
type InstanceMetadata struct {
	PatientID string     `json:"patient_id,omitempty"`
	EpisodeID string     `json:"episode_id,omitempty"`
	Priority  string     `json:"priority,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	FormType  string     `json:"form_type"`
}

// WorkflowSignature records one completed signature step. At most one
// signature exists per step ID within an instance.
type WorkflowSignature struct {
	StepID        string            `json:"step_id"`
	SignatureID   string            `json:"signature_id"`
	Algorithm     string            `json:"algorithm"`
	SignerUserID  string            `json:"signer_user_id"`
	SignerName    string            `json:"signer_name"`
	SignerRole    Role              `json:"signer_role"`
	SignatureData string            `json:"signature_data,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Witness       *WitnessSignature `json:"witness,omitempty"`
}

// WitnessSignature is the co-signature captured when a step requires a
// witness.
type WitnessSignature struct {
	SignatureID   string    `json:"signature_id"`
	Algorithm     string    `json:"algorithm"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	SignatureData string    `json:"signature_data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditEvent is one entry in an instance's append-only audit trail.
type AuditEvent struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Action     string         `json:"action"`
	UserID     string         `json:"user_id"`
	UserName   string         `json:"user_name"`
	UserRole   Role           `json:"user_role"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Progress is a derived read-only view of instance advancement.
type Progress struct {
	TotalSteps      int      `json:"total_steps"`
	CompletedCount  int      `json:"completed_count"`
	PendingCount    int      `json:"pending_count"`
	ProgressPercent float64  `json:"progress_percent"`
	NextSteps       []string `json:"next_steps"`
}

// CompletionReport is the result of a pre-submit completion check.
type CompletionReport struct {
	IsComplete   bool     `json:"is_complete"`
	MissingSteps []string `json:"missing_steps"`
	Errors       []string `json:"errors,omitempty"`
}

// InstanceSummary is a lightweight representation of an instance used in
// list views.
type InstanceSummary struct {
	ID             string    `json:"id"`
	WorkflowID     string    `json:"workflow_id"`
	Name           string    `json:"name"`
	DocumentID     string    `json:"document_id"`
	Status         string    `json:"status"`
	CompletedCount int       `json:"completed_count"`
	TotalSteps     int       `json:"total_steps"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InstanceFilters are the caller-facing list filters.
type InstanceFilters struct {
	WorkflowID string
	DocumentID string
	Status     string
	Page       int
	PageSize   int
}
