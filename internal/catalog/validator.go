package catalog

import (
	"fmt"

	"github.com/curalink/signchain/model"
)

// VError describes a single validation error in a catalog file.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks workflow configurations structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all configurations. Duplicate IDs across files are
// rejected so a lookup is never ambiguous.
func (v *Validator) Validate(configs []model.WorkflowConfiguration) []VError {
	var errs []VError

	seen := make(map[string]string, len(configs))
	for i, cfg := range configs {
		prefix := fmt.Sprintf("workflows[%d]", i)
		if cfg.ID != "" {
			if prev, dup := seen[cfg.ID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("workflow %q already defined in %s", cfg.ID, prev),
				})
			}
			seen[cfg.ID] = cfg.SourceFile
		}
		errs = append(errs, v.validateConfiguration(prefix, cfg)...)
	}
	return errs
}

func (v *Validator) validateConfiguration(prefix string, cfg model.WorkflowConfiguration) []VError {
	var errs []VError

	if cfg.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if cfg.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(cfg.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool, len(cfg.Steps))
	for i, s := range cfg.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		}
		if stepIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("step id %q is not unique", s.ID)})
		}
		stepIDs[s.ID] = true

		if !s.SignerRole.Valid() {
			errs = append(errs, VError{Path: sp + ".signer_role", Code: "UNKNOWN_ROLE", Message: fmt.Sprintf("unknown signer role %q", s.SignerRole)})
		}
		if s.Order < 0 {
			errs = append(errs, VError{Path: sp + ".order", Code: "INVALID", Message: "order must be non-negative"})
		}
		if s.Timeout != "" {
			if _, ok := s.TimeoutDuration(); !ok {
				errs = append(errs, VError{Path: sp + ".timeout", Code: "INVALID", Message: fmt.Sprintf("timeout %q is not a positive duration", s.Timeout)})
			}
		}
	}

	for i, critical := range cfg.CompletionCriteria.CriticalStepsRequired {
		if !stepIDs[critical] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.completion_criteria.critical_steps_required[%d]", prefix, i),
				Code:    "UNKNOWN_STEP",
				Message: fmt.Sprintf("critical step %q is not defined in steps", critical),
			})
		}
	}

	return errs
}
